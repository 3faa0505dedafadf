// Package procedures persists step-by-step procedures per account in a small
// key-value store: a most-recent-first list per account plus one "current"
// slot shared by the process.
package procedures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxPerAccount caps the stored list; older entries fall off the end.
	MaxPerAccount = 100

	// CurrentKey holds the procedure most recently saved or selected.
	CurrentKey = "current_sop"

	listKeyPrefix = "sops_"
)

// ErrNotFound is returned when a procedure id is not in the account's list.
var ErrNotFound = errors.New("procedure not found")

// Step is one stored step.
type Step struct {
	Number         int    `json:"step" yaml:"step"`
	Action         string `json:"action" yaml:"action"`
	LookFor        string `json:"look_for" yaml:"look_for"`
	CommonMistakes string `json:"common_mistakes,omitempty" yaml:"common_mistakes,omitempty"`
}

// Procedure is a persisted, titled list of steps.
type Procedure struct {
	ID         string    `json:"id" yaml:"id,omitempty"`
	Title      string    `json:"title" yaml:"title"`
	Role       string    `json:"role,omitempty" yaml:"role,omitempty"`
	Steps      []Step    `json:"steps" yaml:"steps"`
	SourceType string    `json:"source_type,omitempty" yaml:"source_type,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at,omitempty"`
	AccountID  string    `json:"account_id,omitempty" yaml:"account_id,omitempty"`
}

// KV is the storage the Store is layered on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store reads and writes procedures through a KV.
type Store struct {
	kv    KV
	now   func() time.Time
	newID func() string
}

// NewStore wraps kv.
func NewStore(kv KV) *Store {
	return &Store{
		kv:    kv,
		now:   time.Now,
		newID: func() string { return "sop_" + uuid.NewString() },
	}
}

// Close releases the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeAccountID lowercases, trims and hyphenates an account id. Empty
// input maps to "default".
func NormalizeAccountID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "default"
	}
	return whitespace.ReplaceAllString(strings.ToLower(raw), "-")
}

// ListKey is the KV key holding an account's procedures.
func ListKey(account string) string {
	return listKeyPrefix + NormalizeAccountID(account)
}

// List returns the account's procedures, most recent first. Corrupt entries
// read as an empty list.
func (s *Store) List(ctx context.Context, account string) ([]Procedure, error) {
	raw, ok, err := s.kv.Get(ctx, ListKey(account))
	if err != nil {
		return nil, fmt.Errorf("read procedures: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var list []Procedure
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil
	}
	return list, nil
}

// Get finds one procedure by id in the account's list.
func (s *Store) Get(ctx context.Context, account, id string) (Procedure, error) {
	list, err := s.List(ctx, account)
	if err != nil {
		return Procedure{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return Procedure{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Save stamps p (id, creation time, account), makes it current and prepends
// it to the account's list, dropping anything past MaxPerAccount.
func (s *Store) Save(ctx context.Context, account string, p Procedure) (Procedure, error) {
	account = NormalizeAccountID(account)
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.AccountID = account

	if err := s.SetCurrent(ctx, p); err != nil {
		return Procedure{}, err
	}

	list, err := s.List(ctx, account)
	if err != nil {
		return Procedure{}, err
	}
	list = append([]Procedure{p}, list...)
	if len(list) > MaxPerAccount {
		list = list[:MaxPerAccount]
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return Procedure{}, fmt.Errorf("encode procedures: %w", err)
	}
	if err := s.kv.Put(ctx, ListKey(account), raw); err != nil {
		return Procedure{}, fmt.Errorf("write procedures: %w", err)
	}
	return p, nil
}

// Current returns the current procedure, if any.
func (s *Store) Current(ctx context.Context) (Procedure, bool, error) {
	raw, ok, err := s.kv.Get(ctx, CurrentKey)
	if err != nil {
		return Procedure{}, false, fmt.Errorf("read current procedure: %w", err)
	}
	if !ok {
		return Procedure{}, false, nil
	}
	var p Procedure
	if err := json.Unmarshal(raw, &p); err != nil {
		return Procedure{}, false, nil
	}
	return p, true, nil
}

// SetCurrent replaces the current procedure.
func (s *Store) SetCurrent(ctx context.Context, p Procedure) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode current procedure: %w", err)
	}
	if err := s.kv.Put(ctx, CurrentKey, raw); err != nil {
		return fmt.Errorf("write current procedure: %w", err)
	}
	return nil
}

// ClearCurrent empties the current slot.
func (s *Store) ClearCurrent(ctx context.Context) error {
	if err := s.kv.Delete(ctx, CurrentKey); err != nil {
		return fmt.Errorf("clear current procedure: %w", err)
	}
	return nil
}
