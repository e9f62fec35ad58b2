package model

// ClientID identifies a record within one process. It is assigned by the
// store before any primary key is known.
type ClientID uint64

// DirtyKind names the transaction bucket a dirty record belongs to.
type DirtyKind string

const (
	DirtyCreated DirtyKind = "created"
	DirtyUpdated DirtyKind = "updated"
	DirtyDeleted DirtyKind = "deleted"
)

// DirtyKinds lists the buckets in commit order.
var DirtyKinds = []DirtyKind{DirtyCreated, DirtyUpdated, DirtyDeleted}

// Transaction is told when a record becomes dirty or clean. Each record
// reports exactly one RecordBecameDirty per dirty episode and exactly one
// matching RecordBecameClean when the episode ends.
type Transaction interface {
	RecordBecameDirty(kind DirtyKind, r *Record)
	RecordBecameClean(kind DirtyKind, r *Record)
}

// Store is the identity map a record lives in.
type Store interface {
	DefaultTransaction() Transaction
	HashWasUpdated(t *Type, id ClientID)
	RemoveFromRecordArrays(r *Record)
	// LoadMany loads embedded payloads and returns their ids in order.
	LoadMany(t *Type, payloads []map[string]any) []string
	// Materialize makes sure a record exists for every id, loaded or not.
	Materialize(t *Type, ids []string)
	FindMany(t *Type, ids []string) *RecordArray
	IDToClientIDMap(t *Type) map[string]ClientID
}

// TransitionObserver is implemented by stores that want to hear about every
// state change of their records.
type TransitionObserver interface {
	RecordDidTransition(r *Record, from, to string)
}
