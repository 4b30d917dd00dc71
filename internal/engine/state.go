package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// syncMeta is the persisted part of SyncState that is not the queue.
type syncMeta struct {
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp,omitempty"`
	ShouldReload      bool       `json:"shouldReload"`
}

func loadMeta(tx store.Tx) (syncMeta, error) {
	var m syncMeta
	data, err := tx.Get(store.BucketSync, store.KeyMeta)
	if errors.Is(err, store.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("load meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("load meta: %w", err)
	}
	return m, nil
}

func saveMeta(tx store.Tx, m syncMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Put(store.BucketSync, store.KeyMeta, data); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// loadIDMap reads the frontend id to server id aliases.
func loadIDMap(tx store.Tx) (map[string]string, error) {
	m := make(map[string]string)
	data, err := tx.Get(store.BucketSync, store.KeyIDMap)
	if errors.Is(err, store.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load id map: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("load id map: %w", err)
	}
	return m, nil
}

// recordAlias remembers that frontendID now lives under serverID.
func recordAlias(tx store.Tx, frontendID, serverID string) error {
	m, err := loadIDMap(tx)
	if err != nil {
		return err
	}
	m[frontendID] = serverID
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("save id map: %w", err)
	}
	if err := tx.Put(store.BucketSync, store.KeyIDMap, data); err != nil {
		return fmt.Errorf("save id map: %w", err)
	}
	return nil
}

// resolveID maps a reconciled frontend id to its server id.
// Any other id is returned unchanged.
func resolveID(tx store.Tx, id string) (string, error) {
	if !ir.IsFrontendID(id) {
		return id, nil
	}
	m, err := loadIDMap(tx)
	if err != nil {
		return "", err
	}
	if serverID, ok := m[id]; ok {
		return serverID, nil
	}
	return id, nil
}

func getEntity(tx store.Tx, kind ir.EntityKind, id string) (ir.Entity, error) {
	data, err := tx.Get(kind.Bucket(), id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Entity{}, fmt.Errorf("%s %s: %w", kind, id, ErrEntityNotFound)
	}
	if err != nil {
		return ir.Entity{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return ir.DecodeEntity(kind, id, data)
}

func putEntity(tx store.Tx, e ir.Entity) error {
	data, err := ir.EncodeEntity(e)
	if err != nil {
		return err
	}
	if err := tx.Put(e.Kind.Bucket(), e.ID, data); err != nil {
		return fmt.Errorf("put %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

func entityExists(tx store.Tx, kind ir.EntityKind) func(id string) bool {
	return func(id string) bool {
		_, err := tx.Get(kind.Bucket(), id)
		return err == nil
	}
}

// decodeJSON unmarshals keeping numbers as json.Number so server ids
// round-trip exactly.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
