package main

import (
	"context"
	"fmt"

	"github.com/zarniwp/cuba/internal/config"
	"github.com/zarniwp/cuba/internal/fsadapter"
	"github.com/zarniwp/cuba/internal/fsadapter/local"
	"github.com/zarniwp/cuba/internal/fsadapter/s3"
	"github.com/zarniwp/cuba/internal/fsadapter/webdav"
	"github.com/zarniwp/cuba/internal/password"
)

// buildFilesystems constructs one fsadapter.Filesystem per entry in
// cfg.Filesystems, resolving any auth secret through passwords. Secrets
// never live in the config file itself, per spec.md §6.
func buildFilesystems(ctx context.Context, cfg *config.Config, passwords password.Provider) (map[string]fsadapter.Filesystem, error) {
	out := make(map[string]fsadapter.Filesystem, len(cfg.Filesystems))
	for name, spec := range cfg.Filesystems {
		fs, err := buildFilesystem(ctx, spec, passwords)
		if err != nil {
			return nil, fmt.Errorf("building filesystem %q: %w", name, err)
		}
		out[name] = fs
	}
	return out, nil
}

func buildFilesystem(ctx context.Context, spec config.FilesystemSpec, passwords password.Provider) (fsadapter.Filesystem, error) {
	switch spec.Kind {
	case "local":
		return local.New(spec.Root)
	case "webdav":
		pw, err := resolveSecret(passwords, spec.AuthPasswordID)
		if err != nil {
			return nil, err
		}
		return webdav.New(webdav.Options{
			BaseURL:   spec.URL,
			Username:  spec.Username,
			Password:  pw,
			TLSVerify: spec.TLSVerify,
		}), nil
	case "s3":
		secret, err := resolveSecret(passwords, spec.AuthPasswordID)
		if err != nil {
			return nil, err
		}
		return s3.New(ctx, s3.Options{
			Bucket:          spec.Bucket,
			Prefix:          spec.Prefix,
			Region:          spec.Region,
			AccessKeyID:     spec.AccessKeyID,
			SecretAccessKey: secret,
		})
	default:
		return nil, fmt.Errorf("unknown filesystem kind %q", spec.Kind)
	}
}

// resolveSecret looks up id through passwords, treating a blank id as
// "no secret configured" rather than an error: local filesystems and
// anonymous webdav/s3 endpoints never set an auth_password_id.
func resolveSecret(passwords password.Provider, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if passwords == nil {
		return "", fmt.Errorf("password id %q configured but no password provider available", id)
	}
	return passwords.Get(id)
}
