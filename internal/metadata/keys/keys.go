// Package keys provides key encoding/decoding for the metadata keyspace.
// Keys use zero-padded numeric encoding for lexicographic ordering.
//
// Layout:
//
//	/bulkgc/v1/commands/<commandId>                   command status (JSON)
//	/bulkgc/v1/users/<user>/<seqZ>-<commandId>        per-user command index
//	/bulkgc/v1/repos/<repository>/docs/<docId>        KV repository documents
//
// seqZ is a zero-padded decimal of width 20 so that index entries of one
// user sort by submission order. User names and document ids are path
// escaped, so every family stays exactly one segment below its prefix.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SeqWidth is the number of digits of a zero-padded sequence.
// Width 20 covers every uint64.
const SeqWidth = 20

// Key prefixes.
const (
	// Prefix is the root prefix for all bulkgc keys.
	Prefix = "/bulkgc/v1"

	// CommandsPrefix is the prefix for command status records.
	CommandsPrefix = Prefix + "/commands"

	// UsersPrefix is the prefix for the per-user command index.
	UsersPrefix = Prefix + "/users"

	// ReposPrefix is the prefix for KV repository documents.
	ReposPrefix = Prefix + "/repos"
)

// Common errors.
var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")

	// ErrEmptyComponent is returned when a key component is empty.
	ErrEmptyComponent = errors.New("keys: empty key component")
)

// EncodeUint64 encodes an unsigned 64-bit integer as a zero-padded
// decimal string of the specified width for lexicographic ordering.
func EncodeUint64(v uint64, width int) string {
	return fmt.Sprintf("%0*d", width, v)
}

// DecodeUint64 decodes a zero-padded decimal string back to uint64.
func DecodeUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func escape(s string) string {
	return url.PathEscape(s)
}

func unescape(s string) (string, error) {
	v, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return v, nil
}

// CommandKeyPath returns the status key of a command.
func CommandKeyPath(commandID string) string {
	return CommandsPrefix + "/" + escape(commandID)
}

// CommandsListPrefix returns the prefix for listing every command status.
func CommandsListPrefix() string {
	return CommandsPrefix + "/"
}

// ParseCommandKey extracts the command id from a status key.
func ParseCommandKey(key string) (string, error) {
	rest, ok := strings.CutPrefix(key, CommandsListPrefix())
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", ErrInvalidKey
	}
	return unescape(rest)
}

// UserCommandKey is a parsed per-user index key.
type UserCommandKey struct {
	Username  string
	Seq       uint64
	CommandID string
}

// UserCommandKeyPath builds the index key of a command submitted by username.
// The key format is: /bulkgc/v1/users/<user>/<seqZ>-<commandId>
func UserCommandKeyPath(username string, seq uint64, commandID string) (string, error) {
	if username == "" || commandID == "" {
		return "", ErrEmptyComponent
	}
	return fmt.Sprintf("%s/%s/%s-%s", UsersPrefix, escape(username), EncodeUint64(seq, SeqWidth), escape(commandID)), nil
}

// UserCommandsPrefix returns the prefix for listing the commands of username.
func UserCommandsPrefix(username string) string {
	return fmt.Sprintf("%s/%s/", UsersPrefix, escape(username))
}

// ParseUserCommandKey parses a per-user index key into its components.
func ParseUserCommandKey(key string) (UserCommandKey, error) {
	rest, ok := strings.CutPrefix(key, UsersPrefix+"/")
	if !ok {
		return UserCommandKey{}, ErrInvalidKey
	}
	user, entry, ok := strings.Cut(rest, "/")
	if !ok || user == "" || strings.Contains(entry, "/") {
		return UserCommandKey{}, ErrInvalidKey
	}
	if len(entry) < SeqWidth+2 || entry[SeqWidth] != '-' {
		return UserCommandKey{}, ErrInvalidKey
	}

	seq, err := DecodeUint64(entry[:SeqWidth])
	if err != nil {
		return UserCommandKey{}, fmt.Errorf("%w: invalid seq: %v", ErrInvalidKey, err)
	}
	username, err := unescape(user)
	if err != nil {
		return UserCommandKey{}, err
	}
	commandID, err := unescape(entry[SeqWidth+1:])
	if err != nil {
		return UserCommandKey{}, err
	}
	return UserCommandKey{Username: username, Seq: seq, CommandID: commandID}, nil
}

// DocumentKeyPath returns the key of a document in a KV repository.
func DocumentKeyPath(repository, docID string) string {
	return fmt.Sprintf("%s/%s/docs/%s", ReposPrefix, escape(repository), escape(docID))
}

// DocumentsPrefix returns the prefix for listing the documents of a repository.
func DocumentsPrefix(repository string) string {
	return fmt.Sprintf("%s/%s/docs/", ReposPrefix, escape(repository))
}

// ParseDocumentKey parses a document key.
func ParseDocumentKey(key string) (repository, docID string, err error) {
	rest, ok := strings.CutPrefix(key, ReposPrefix+"/")
	if !ok {
		return "", "", ErrInvalidKey
	}
	repo, id, ok := strings.Cut(rest, "/docs/")
	if !ok || repo == "" || id == "" || strings.Contains(id, "/") {
		return "", "", ErrInvalidKey
	}
	if repository, err = unescape(repo); err != nil {
		return "", "", err
	}
	if docID, err = unescape(id); err != nil {
		return "", "", err
	}
	return repository, docID, nil
}
