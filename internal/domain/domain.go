package domain

// StoredRecord is the persisted form of one record: its type, primary key and
// raw data as a JSON object.
type StoredRecord struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	DataJSON  string `json:"data_json"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event is one journal entry appended by a persistence adapter.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Journal event types.
const (
	EventRecordCreated = "record.created"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
)
