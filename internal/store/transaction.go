package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lifeline/internal/adapter"
	"lifeline/internal/model"
)

// Transaction groups dirty records by kind and commits them through the
// store's adapter.
type Transaction struct {
	store   *Store
	buckets map[model.DirtyKind][]*model.Record
	adopted []*model.Record
}

func (t *Transaction) RecordBecameDirty(kind model.DirtyKind, r *model.Record) {
	if !slices.Contains(t.buckets[kind], r) {
		t.buckets[kind] = append(t.buckets[kind], r)
	}
	if o := t.store.observer; o != nil {
		o.RecordBecameDirty(r.Type().Name(), kind)
	}
}

func (t *Transaction) RecordBecameClean(kind model.DirtyKind, r *model.Record) {
	if i := slices.Index(t.buckets[kind], r); i >= 0 {
		t.buckets[kind] = slices.Delete(t.buckets[kind], i, i+1)
	}
	if o := t.store.observer; o != nil {
		o.RecordBecameClean(r.Type().Name(), kind)
	}
}

// Dirty returns the records in the kind's bucket in the order they became dirty.
func (t *Transaction) Dirty(kind model.DirtyKind) []*model.Record {
	return slices.Clone(t.buckets[kind])
}

func (t *Transaction) IsEmpty() bool {
	for _, b := range t.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

func (t *Transaction) has(r *model.Record) (model.DirtyKind, bool) {
	for _, kind := range model.DirtyKinds {
		if slices.Contains(t.buckets[kind], r) {
			return kind, true
		}
	}
	return "", false
}

func (t *Transaction) adopt(r *model.Record) {
	if !slices.Contains(t.adopted, r) {
		t.adopted = append(t.adopted, r)
	}
}

// Add moves r into this transaction, carrying over any dirty membership it
// had in its previous one.
func (t *Transaction) Add(r *model.Record) {
	prev := t.store.defaultTx
	if cur, ok := r.Transaction().(*Transaction); ok && cur != nil {
		prev = cur
	}
	if prev == t {
		return
	}
	if kind, ok := prev.has(r); ok {
		if i := slices.Index(prev.buckets[kind], r); i >= 0 {
			prev.buckets[kind] = slices.Delete(prev.buckets[kind], i, i+1)
		}
		t.buckets[kind] = append(t.buckets[kind], r)
	}
	if i := slices.Index(prev.adopted, r); i >= 0 {
		prev.adopted = slices.Delete(prev.adopted, i, i+1)
	}
	if t == t.store.defaultTx {
		r.SetTransaction(nil)
		return
	}
	r.SetTransaction(t)
	t.adopt(r)
}

// Remove hands r back to the store's default transaction.
func (t *Transaction) Remove(r *model.Record) {
	t.store.defaultTx.Add(r)
}

// Commit saves every dirty record: creates, then updates, then deletes. A
// record whose save fails moves to the error state; the failures are joined
// into the returned error. Adopted records return to the default transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.store.adapter == nil {
		return ErrNoAdapter
	}
	var errs []error
	for _, kind := range model.DirtyKinds {
		for _, r := range t.Dirty(kind) {
			if err := t.commitRecord(ctx, kind, r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if t != t.store.defaultTx {
		for _, r := range slices.Clone(t.adopted) {
			t.Remove(r)
		}
	}
	return errors.Join(errs...)
}

func (t *Transaction) commitRecord(ctx context.Context, kind model.DirtyKind, r *model.Record) (err error) {
	typ := r.Type()
	ctx, span := t.store.tracer.Start(ctx, "store.commit."+string(kind), trace.WithAttributes(
		attribute.String("record.type", typ.Name()),
		attribute.Int64("record.client_id", int64(r.ClientID())),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if o := t.store.observer; o != nil {
			o.CommitFinished(typ.Name(), kind, err)
		}
		span.End()
	}()

	if err := r.RequestCommit(); err != nil {
		return fmt.Errorf("commit %s: %w", r, err)
	}
	if !r.IsSaving() {
		return fmt.Errorf("commit %s: record did not start saving (state %s)", r, r.StateName())
	}

	a := t.store.adapter
	switch kind {
	case model.DirtyCreated:
		saved, err := a.CreateRecord(ctx, typ, r.Data())
		if err != nil {
			return t.fail(r, kind, err)
		}
		if err := r.SetData(saved); err != nil {
			return t.fail(r, kind, err)
		}
		if id, ok := r.ID(); ok {
			t.store.register(typ, id, r)
		}
		return r.AdapterDidCreate()
	case model.DirtyUpdated:
		id, ok := r.ID()
		if !ok {
			return t.fail(r, kind, ErrMissingID)
		}
		if err := a.UpdateRecord(ctx, typ, id, r.Data()); err != nil {
			return t.fail(r, kind, err)
		}
		return r.AdapterDidUpdate()
	case model.DirtyDeleted:
		// Records that never reached the adapter have nothing to remove.
		if id, ok := r.ID(); ok {
			err := a.DeleteRecord(ctx, typ, id)
			if err != nil && !errors.Is(err, adapter.ErrNotFound) {
				return t.fail(r, kind, err)
			}
		}
		return r.AdapterDidDelete()
	}
	return fmt.Errorf("commit %s: unknown dirty kind %q", r, kind)
}

func (t *Transaction) fail(r *model.Record, kind model.DirtyKind, cause error) error {
	err := fmt.Errorf("commit %s %s: %w", kind, r, cause)
	t.store.logger().Printf("store: %v", err)
	if berr := r.BecameError(); berr != nil {
		return errors.Join(err, berr)
	}
	return err
}

var _ model.Transaction = (*Transaction)(nil)
