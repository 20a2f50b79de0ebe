package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

var (
	ErrAuthFailure  = errors.New("username or password is incorrect")
	ErrRegistration = errors.New("registration failed")
	ErrUnknownUser  = errors.New("unknown user")
)

// dummyHash keeps the timing of unknown-user logins close to real bcrypt comparisons.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Identity is the non-secret view of a credential record.
type Identity struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`

	// Stamp changes whenever the password does.
	Stamp string `json:"-"`
}

// Registration is the input of a new account.
type Registration struct {
	Username string
	Name     string
	Email    string
	Password string
}

// Details are the user-editable profile fields.
type Details struct {
	Name  string
	Email string
}

// CookieConfig configures the re-authentication cookie.
type CookieConfig struct {
	Name       string  `yaml:"name"`
	Key        string  `yaml:"key"`
	ExpiryDays float64 `yaml:"expiry_days"`
}

// Store is the credential repository. Swapping the flat file for a database only
// needs another implementation of this interface.
type Store interface {
	Verify(username, password string) (Identity, error)
	Lookup(username string) (Identity, bool)
	Register(reg Registration) (Identity, error)
	ResetPassword(username, current, next string) error
	UpdateDetails(username string, details Details) (Identity, error)
	Cookie() CookieConfig
}

type userRecord struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type credentialFile struct {
	Credentials struct {
		Usernames map[string]userRecord `yaml:"usernames"`
	} `yaml:"credentials"`
	Cookie        CookieConfig `yaml:"cookie"`
	PreAuthorized struct {
		Emails []string `yaml:"emails"`
	} `yaml:"pre-authorized"`
}

// FileStore keeps credentials in a YAML file that is read once and rewritten in full
// after every mutation.
type FileStore struct {
	path           string
	cost           int
	requirePreauth bool

	mu   sync.RWMutex
	file credentialFile
}

// Option customizes a FileStore.
type Option func(*FileStore)

// WithBcryptCost overrides the hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(s *FileStore) { s.cost = cost }
}

// WithPreauthorization makes registration require an email from the pre-authorized list.
func WithPreauthorization(required bool) Option {
	return func(s *FileStore) { s.requirePreauth = required }
}

// LoadFileStore reads the credential file at path.
func LoadFileStore(path string, opts ...Option) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	var file credentialFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credential file: %w", err)
	}

	normalized := make(map[string]userRecord, len(file.Credentials.Usernames))
	for username, record := range file.Credentials.Usernames {
		normalized[normalizeUsername(username)] = record
	}
	file.Credentials.Usernames = normalized

	store := &FileStore{path: path, cost: bcrypt.DefaultCost, file: file}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// CreateFile writes an empty credential file with the given cookie section. It refuses
// to overwrite an existing file.
func CreateFile(path string, cookie CookieConfig, preauthorized []string) error {
	var file credentialFile
	file.Credentials.Usernames = map[string]userRecord{}
	file.Cookie = cookie
	file.PreAuthorized.Emails = preauthorized

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create credential file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("create credential file: %w", err)
	}
	return f.Close()
}

// Cookie returns the cookie section of the file.
func (s *FileStore) Cookie() CookieConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Cookie
}

// Verify checks a username/password pair.
func (s *FileStore) Verify(username, password string) (Identity, error) {
	username = normalizeUsername(username)

	s.mu.RLock()
	record, ok := s.file.Credentials.Usernames[username]
	s.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return Identity{}, ErrAuthFailure
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.Password), []byte(password)); err != nil {
		return Identity{}, ErrAuthFailure
	}
	return identityOf(username, record), nil
}

// Lookup returns the identity of a registered user.
func (s *FileStore) Lookup(username string) (Identity, bool) {
	username = normalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.file.Credentials.Usernames[username]
	if !ok {
		return Identity{}, false
	}
	return identityOf(username, record), true
}

// Register adds a new user and persists the file.
func (s *FileStore) Register(reg Registration) (Identity, error) {
	username := normalizeUsername(reg.Username)
	name := strings.TrimSpace(reg.Name)
	email := strings.TrimSpace(reg.Email)

	switch {
	case username == "":
		return Identity{}, fmt.Errorf("%w: username is required", ErrRegistration)
	case name == "":
		return Identity{}, fmt.Errorf("%w: name is required", ErrRegistration)
	case reg.Password == "":
		return Identity{}, fmt.Errorf("%w: password is required", ErrRegistration)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Identity{}, fmt.Errorf("%w: email %q is not valid", ErrRegistration, email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: hash password: %v", ErrRegistration, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.file.Credentials.Usernames[username]; exists {
		return Identity{}, fmt.Errorf("%w: username %q is already taken", ErrRegistration, username)
	}

	preauth := s.file.PreAuthorized.Emails
	idx := slices.Index(preauth, email)
	if s.requirePreauth && idx < 0 {
		return Identity{}, fmt.Errorf("%w: email %q is not pre-authorized", ErrRegistration, email)
	}

	next := s.cloneLocked()
	if next.Credentials.Usernames == nil {
		next.Credentials.Usernames = make(map[string]userRecord)
	}
	record := userRecord{Email: email, Name: name, Password: string(hash)}
	next.Credentials.Usernames[username] = record
	if idx >= 0 {
		next.PreAuthorized.Emails = slices.Delete(slices.Clone(preauth), idx, idx+1)
	}

	if err := s.commitLocked(next); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	return identityOf(username, record), nil
}

// ResetPassword replaces the password of username after checking the current one.
func (s *FileStore) ResetPassword(username, current, next string) error {
	if next == "" {
		return errors.New("new password is required")
	}
	if _, err := s.Verify(username, current); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	username = normalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.cloneLocked()
	record, ok := updated.Credentials.Usernames[username]
	if !ok {
		return ErrUnknownUser
	}
	record.Password = string(hash)
	updated.Credentials.Usernames[username] = record
	return s.commitLocked(updated)
}

// UpdateDetails changes the display name and/or email of username. Empty fields are kept.
func (s *FileStore) UpdateDetails(username string, details Details) (Identity, error) {
	username = normalizeUsername(username)
	name := strings.TrimSpace(details.Name)
	email := strings.TrimSpace(details.Email)

	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Identity{}, fmt.Errorf("email %q is not valid", email)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.cloneLocked()
	record, ok := updated.Credentials.Usernames[username]
	if !ok {
		return Identity{}, ErrUnknownUser
	}
	if name != "" {
		record.Name = name
	}
	if email != "" {
		record.Email = email
	}
	updated.Credentials.Usernames[username] = record

	if err := s.commitLocked(updated); err != nil {
		return Identity{}, err
	}
	return identityOf(username, record), nil
}

func (s *FileStore) cloneLocked() credentialFile {
	clone := s.file
	clone.Credentials.Usernames = make(map[string]userRecord, len(s.file.Credentials.Usernames))
	for k, v := range s.file.Credentials.Usernames {
		clone.Credentials.Usernames[k] = v
	}
	clone.PreAuthorized.Emails = slices.Clone(s.file.PreAuthorized.Emails)
	return clone
}

// commitLocked writes next to disk and only then makes it the in-memory state.
func (s *FileStore) commitLocked(next credentialFile) error {
	data, err := yaml.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}

	s.file = next
	return nil
}

func identityOf(username string, record userRecord) Identity {
	return Identity{Username: username, Name: record.Name, Email: record.Email, Stamp: passwordStamp(record.Password)}
}

// passwordStamp fingerprints the stored hash so tokens can be tied to one password.
func passwordStamp(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
