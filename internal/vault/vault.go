// Package vault stores one encrypted credential blob per (owner, account label).
//
// Records live as files under a single directory:
//
//	<dir>/user_<owner>__<sanitized label>.session
//
// Each file is: magic | label length (uint16 BE) | label | nonce | sealed payload.
// The magic, owner and label are bound to the ciphertext as associated data, so a
// record copied to another owner or renamed on disk fails to open.
package vault

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	logx "groupbot/pkg/logx"
)

// DefaultLabel names the account in single-account mode.
const DefaultLabel = "default"

// MinKeyLen is the shortest accepted process key, in bytes.
const MinKeyLen = 16

var (
	ErrKey   = errors.New("vault: encryption key must be at least 16 bytes")
	ErrLabel = errors.New("vault: empty account label")
)

var (
	magic   = []byte("GBV1")
	kdfSalt = []byte("groupbot/vault/v1")
)

const fileSuffix = ".session"

type Vault struct {
	dir  string
	aead cipher.AEAD
	log  logx.Logger
}

// New derives the record key from the process key and prepares dir.
func New(dir, key string, log logx.Logger) (*Vault, error) {
	if len(key) < MinKeyLen {
		return nil, ErrKey
	}
	if dir == "" {
		return nil, errors.New("vault: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: mkdir %s: %w", dir, err)
	}
	k := argon2.IDKey([]byte(key), kdfSalt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Vault{dir: dir, aead: aead, log: log.With(logx.String("comp", "vault"))}, nil
}

func (v *Vault) Dir() string { return v.dir }

// Save encrypts data and atomically replaces the record for (owner, label).
func (v *Vault) Save(owner int64, label string, data []byte) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return ErrLabel
	}
	if len(label) > 0xFFFF {
		return fmt.Errorf("vault: label too long")
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(magic)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(label)))
	buf.WriteString(label)
	header := buf.Bytes()
	out := append([]byte(nil), header...)
	out = append(out, nonce...)
	out = v.aead.Seal(out, nonce, data, additionalData(owner, header))

	path := v.path(owner, label)
	tmp, err := os.CreateTemp(v.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("vault: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("vault: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("vault: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	v.log.Debug("credential saved", logx.Int64("owner", owner), logx.String("label", label))
	return nil
}

// Load returns the decrypted record. A missing, empty or undecryptable record is
// reported as ok=false; the reason is logged, never returned.
func (v *Vault) Load(owner int64, label string) ([]byte, bool) {
	label = strings.TrimSpace(label)
	path := v.path(owner, label)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			v.log.Warn("credential read failed", logx.Int64("owner", owner), logx.String("label", label), logx.Err(err))
		}
		return nil, false
	}
	if len(raw) == 0 {
		v.log.Warn("credential file empty", logx.Int64("owner", owner), logx.String("label", label))
		return nil, false
	}
	data, err := v.open(owner, raw)
	if err != nil {
		v.log.Warn("credential decrypt failed", logx.Int64("owner", owner), logx.String("label", label), logx.Err(err))
		return nil, false
	}
	return data, true
}

// Has reports whether a record file exists, without decrypting it.
func (v *Vault) Has(owner int64, label string) bool {
	_, err := os.Stat(v.path(owner, strings.TrimSpace(label)))
	return err == nil
}

// Delete removes the record. Removing a missing record is not an error.
func (v *Vault) Delete(owner int64, label string) (bool, error) {
	err := os.Remove(v.path(owner, strings.TrimSpace(label)))
	switch {
	case err == nil:
		v.log.Info("credential deleted", logx.Int64("owner", owner), logx.String("label", label))
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("vault: delete: %w", err)
	}
}

// Labels lists the owner's account labels, sorted. Labels come from the record
// header; files whose header cannot be parsed are skipped.
func (v *Vault) Labels(owner int64) ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	prefix := ownerPrefix(owner)
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		label, err := readLabel(filepath.Join(v.dir, name))
		if err != nil {
			v.log.Debug("skip unreadable record", logx.String("file", name), logx.Err(err))
			continue
		}
		out = append(out, label)
	}
	sort.Strings(out)
	return out, nil
}

func (v *Vault) open(owner int64, raw []byte) ([]byte, error) {
	header, rest, err := splitHeader(raw)
	if err != nil {
		return nil, err
	}
	ns := v.aead.NonceSize()
	if len(rest) < ns+v.aead.Overhead() {
		return nil, errors.New("record truncated")
	}
	return v.aead.Open(nil, rest[:ns], rest[ns:], additionalData(owner, header))
}

func (v *Vault) path(owner int64, label string) string {
	return filepath.Join(v.dir, ownerPrefix(owner)+SanitizeLabel(label)+fileSuffix)
}

func ownerPrefix(owner int64) string {
	return "user_" + strconv.FormatInt(owner, 10) + "__"
}

func additionalData(owner int64, header []byte) []byte {
	ad := make([]byte, 0, 8+len(header))
	ad = binary.BigEndian.AppendUint64(ad, uint64(owner))
	return append(ad, header...)
}

// splitHeader returns (magic|len|label, remainder).
func splitHeader(raw []byte) ([]byte, []byte, error) {
	if len(raw) < len(magic)+2 || !bytes.Equal(raw[:len(magic)], magic) {
		return nil, nil, errors.New("bad record magic")
	}
	n := int(binary.BigEndian.Uint16(raw[len(magic):]))
	end := len(magic) + 2 + n
	if len(raw) < end {
		return nil, nil, errors.New("record header truncated")
	}
	return raw[:end], raw[end:], nil
}

func readLabel(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	header, _, err := splitHeader(raw)
	if err != nil {
		return "", err
	}
	return string(header[len(magic)+2:]), nil
}

// SanitizeLabel maps a label to a file-name-safe form. Labels that needed changes
// get a short digest suffix so distinct labels never share a file.
func SanitizeLabel(label string) string {
	var b strings.Builder
	changed := false
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	if !changed && b.Len() > 0 {
		return b.String()
	}
	sum := sha256.Sum256([]byte(label))
	return b.String() + "." + hex.EncodeToString(sum[:4])
}
