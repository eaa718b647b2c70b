package outbox

const studySessionChangedSchema = `{
  "type": "object",
  "title": "StudySessionChanged",
  "properties": {
    "session_id": {"type": "string"},
    "user_id": {"type": "string"},
    "language_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "duration_seconds": {"type": "integer", "minimum": 0},
    "activity_date": {"type": "string", "format": "date"},
    "operation": {"type": "string", "enum": ["logged", "updated", "deleted"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["session_id", "user_id", "activity_id", "duration_seconds", "activity_date", "operation", "occurred_at"],
  "additionalProperties": false
}`
