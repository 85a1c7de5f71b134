// Package store persists deployment history and a name-to-address book in
// RocksDB. Records are JSON values in two column families; the store is
// optional and the server runs without it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linxGnu/grocksdb"
	"github.com/oliveagle/jsonpath"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrReadOnlyMode = errors.New("operation not allowed in read-only mode")
)

const (
	cfDefault     = "default"
	cfDeployments = "deployments"
	cfAddressBook = "addressbook"
)

// Deployment is one recorded contract deployment.
type Deployment struct {
	ID           string    `json:"id"`
	Template     string    `json:"template"`
	ContractName string    `json:"contract_name"`
	Address      string    `json:"address"`
	TxHash       string    `json:"tx_hash"`
	Network      string    `json:"network"`
	Deployer     string    `json:"deployer"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store wraps a RocksDB instance with the column families this server uses.
type Store struct {
	db        *grocksdb.DB
	cfHandles map[string]*grocksdb.ColumnFamilyHandle
	ro        *grocksdb.ReadOptions
	wo        *grocksdb.WriteOptions
	readOnly  bool
}

// Open opens (creating if missing) the store at path.
func Open(path string) (*Store, error) {
	return openWithOptions(path, false)
}

// OpenReadOnly opens an existing store without write access.
func OpenReadOnly(path string) (*Store, error) {
	return openWithOptions(path, true)
}

func openWithOptions(path string, readOnly bool) (*Store, error) {
	cfNames, err := grocksdb.ListColumnFamilies(grocksdb.NewDefaultOptions(), path)
	if err != nil || len(cfNames) == 0 {
		cfNames = []string{cfDefault}
	}
	for _, want := range []string{cfDeployments, cfAddressBook} {
		if !contains(cfNames, want) {
			cfNames = append(cfNames, want)
		}
	}

	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)
	cfOpts := make([]*grocksdb.Options, len(cfNames))
	for i := range cfNames {
		cfOpts[i] = grocksdb.NewDefaultOptions()
	}

	var db *grocksdb.DB
	var cfHandles []*grocksdb.ColumnFamilyHandle
	if readOnly {
		opts.SetCreateIfMissing(false)
		opts.SetCreateIfMissingColumnFamilies(false)
		db, cfHandles, err = grocksdb.OpenDbForReadOnlyColumnFamilies(opts, path, cfNames, cfOpts, false)
	} else {
		db, cfHandles, err = grocksdb.OpenDbColumnFamilies(opts, path, cfNames, cfOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	cfHandleMap := make(map[string]*grocksdb.ColumnFamilyHandle, len(cfNames))
	for i, name := range cfNames {
		cfHandleMap[name] = cfHandles[i]
	}
	return &Store{
		db:        db,
		cfHandles: cfHandleMap,
		ro:        grocksdb.NewDefaultReadOptions(),
		wo:        grocksdb.NewDefaultWriteOptions(),
		readOnly:  readOnly,
	}, nil
}

// Close releases all RocksDB handles.
func (s *Store) Close() {
	for _, h := range s.cfHandles {
		h.Destroy()
	}
	s.db.Close()
	s.ro.Destroy()
	s.wo.Destroy()
}

// IsReadOnly reports whether the store was opened read-only.
func (s *Store) IsReadOnly() bool { return s.readOnly }

// PutDeployment records a deployment. A zero ID is filled with a
// nanosecond-timestamp key so records list in insertion order; a zero
// CreatedAt is stamped now.
func (s *Store) PutDeployment(d *Deployment) error {
	if s.readOnly {
		return ErrReadOnlyMode
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.ID == "" {
		d.ID = fmt.Sprintf("%020d", d.CreatedAt.UnixNano())
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deployment: %w", err)
	}
	return s.put(cfDeployments, d.ID, data)
}

// GetDeployment returns the deployment with the given ID.
func (s *Store) GetDeployment(id string) (*Deployment, error) {
	data, err := s.get(cfDeployments, id)
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode deployment %s: %w", id, err)
	}
	return &d, nil
}

// ListDeployments returns up to limit deployments in key order. When filter
// is non-empty it is a jsonpath expression (e.g. "$.network") whose looked-up
// value must stringify to want for the record to be included.
func (s *Store) ListDeployments(limit int, filter, want string) ([]*Deployment, error) {
	h := s.cfHandles[cfDeployments]
	it := s.db.NewIteratorCF(s.ro, h)
	defer it.Close()

	var out []*Deployment
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v := it.Value()
		data := append([]byte(nil), v.Data()...)
		v.Free()

		var d Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		if filter != "" {
			var doc interface{}
			if err := json.Unmarshal(data, &doc); err != nil {
				continue
			}
			got, err := jsonpath.JsonPathLookup(doc, filter)
			if err != nil || fmt.Sprint(got) != want {
				continue
			}
		}
		out = append(out, &d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PutAddress stores or overwrites a named address-book entry.
func (s *Store) PutAddress(name, address string) error {
	if s.readOnly {
		return ErrReadOnlyMode
	}
	return s.put(cfAddressBook, name, []byte(address))
}

// LookupAddress returns the address stored under name.
func (s *Store) LookupAddress(name string) (string, error) {
	data, err := s.get(cfAddressBook, name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListAddresses returns the full address book.
func (s *Store) ListAddresses() (map[string]string, error) {
	h := s.cfHandles[cfAddressBook]
	it := s.db.NewIteratorCF(s.ro, h)
	defer it.Close()

	out := make(map[string]string)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := it.Key()
		v := it.Value()
		out[string(k.Data())] = string(v.Data())
		k.Free()
		v.Free()
	}
	return out, nil
}

func (s *Store) put(cf, key string, value []byte) error {
	return s.db.PutCF(s.wo, s.cfHandles[cf], []byte(key), value)
}

func (s *Store) get(cf, key string) ([]byte, error) {
	val, err := s.db.GetCF(s.ro, s.cfHandles[cf], []byte(key))
	if err != nil {
		return nil, err
	}
	defer val.Free()
	if !val.Exists() {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val.Data()...), nil
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
