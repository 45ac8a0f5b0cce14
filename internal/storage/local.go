package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes uploads under a single root directory. URIs are
// file://<absolute path>.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, wrapErr("init", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, wrapErr("init", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Save(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	full, err := s.safeJoin(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", wrapErr("save", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", wrapErr("save", err)
	}
	return "file://" + full, nil
}

func (s *LocalStore) Load(ctx context.Context, uri string) ([]byte, error) {
	full, err := s.pathFromURI(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, wrapErr("load", err)
	}
	return data, nil
}

func (s *LocalStore) Delete(ctx context.Context, uri string) error {
	full, err := s.pathFromURI(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return wrapErr("delete", err)
	}
	return nil
}

// safeJoin resolves a relative path under the root and rejects anything
// that escapes it.
func (s *LocalStore) safeJoin(path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", wrapErr("save", fmt.Errorf("path %q escapes the upload directory", path))
	}
	return full, nil
}

func (s *LocalStore) pathFromURI(uri string) (string, error) {
	full, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", wrapErr("resolve", fmt.Errorf("not a file URI: %q", uri))
	}
	full = filepath.Clean(full)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", wrapErr("resolve", fmt.Errorf("URI %q is outside the upload directory", uri))
	}
	return full, nil
}
