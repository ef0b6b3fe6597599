// Package sessions persists conversation history, one JSON-lines file
// per session key.
//
// Session keys follow the canonical format:
//
//	{agentId}:{userId}
//
// Both components must be non-empty and free of path separators; the
// key doubles as the session's file stem, so anything that could walk
// the filesystem is rejected up front.
package sessions

import (
	"fmt"
	"strings"
)

// BuildKey builds the canonical session key for an (agent, user) pair.
func BuildKey(agentID, userID string) (string, error) {
	if err := validateComponent(agentID, "agent id"); err != nil {
		return "", err
	}
	if err := validateComponent(userID, "user id"); err != nil {
		return "", err
	}
	return agentID + ":" + userID, nil
}

// ValidateKey checks that a session key is safe to use as a file stem:
// non-empty, no slashes or backslashes, no ".." sequences.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key must be non-empty")
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("session key must not contain path separators")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key must not contain '..'")
	}
	return nil
}

// ParseKey splits a canonical session key into agent and user IDs.
func ParseKey(key string) (agentID, userID string, ok bool) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func validateComponent(v, what string) error {
	if v == "" {
		return fmt.Errorf("%s must be non-empty", what)
	}
	if strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
		return fmt.Errorf("%s must not contain path separators", what)
	}
	return nil
}
