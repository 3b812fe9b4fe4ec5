// Package webdav implements fsadapter.Filesystem against a WebDAV
// server over HTTP(S) with basic auth, following the request/response
// handling shape of flarebyte-baldrick-rebec's opensearch.Client
// (internal/dao/opensearch/client.go): a shared *http.Client, a do()
// helper that attaches auth and the request context, and status-based
// error mapping. No pack example vendors a WebDAV client library, so
// this speaks the protocol directly over net/http (PROPFIND/PUT/
// GET/DELETE/MOVE), per spec.md §4.7's driver list.
package webdav

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
)

// Filesystem is a WebDAV-backed fsadapter.Filesystem.
type Filesystem struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	retry      fsadapter.RetryPolicy
}

var _ fsadapter.Filesystem = (*Filesystem)(nil)

// Options configures a new Filesystem.
type Options struct {
	BaseURL    string
	Username   string
	Password   string
	TLSVerify  bool
	Timeout    time.Duration
	RetryPolicy fsadapter.RetryPolicy
}

// New creates a WebDAV Filesystem.
func New(opts Options) *Filesystem {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := opts.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = fsadapter.DefaultRetryPolicy()
	}

	tr := &http.Transport{}
	if !opts.TLSVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // explicit opt-out, per FilesystemSpec.TLSVerify
	}

	return &Filesystem{
		httpClient: &http.Client{Transport: tr, Timeout: timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		retry:      retry,
	}
}

func (f *Filesystem) url(name string) string {
	return f.baseURL + "/" + strings.TrimLeft(path.Clean("/"+name), "/")
}

func (f *Filesystem) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}
	return f.httpClient.Do(req)
}

func statusError(method, name string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return cuberr.New(cuberr.KindAuth, fmt.Errorf("%s %s: status=%d", method, name, status)).WithPath(name)
	case http.StatusNotFound:
		return cuberr.New(cuberr.KindNotFound, fmt.Errorf("%s %s: status=%d", method, name, status)).WithPath(name)
	default:
		return cuberr.New(cuberr.KindIO, fmt.Errorf("%s %s: status=%d body=%s", method, name, status, string(body))).WithPath(name)
	}
}

// retryable reports whether a response status should be retried.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// OpenRead implements fsadapter.Filesystem.
func (f *Filesystem) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := f.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest(http.MethodGet, f.url(name), nil)
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		resp, err := f.do(ctx, req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", name, err)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			rerr := statusError("GET", name, resp.StatusCode, b)
			if !retryable(resp.StatusCode) {
				return &fsadapter.Permanent{Err: rerr}
			}
			return rerr
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// OpenWriteTemp implements fsadapter.Filesystem. WebDAV has no atomic
// rename primitive for arbitrary servers, so the temp object is staged
// under a sibling name and Finalize issues a MOVE, falling back to
// DELETE-then-MOVE when the destination already exists and the server
// rejects an overwriting MOVE.
func (f *Filesystem) OpenWriteTemp(ctx context.Context, name string) (fsadapter.WriteHandle, error) {
	tmpName := name + fmt.Sprintf(".cuba-tmp-%d", time.Now().UnixNano())
	if err := f.EnsureDir(ctx, path.Dir(name)); err != nil {
		return nil, err
	}
	return &writeHandle{fs: f, finalName: name, tmpName: tmpName}, nil
}

// Stat implements fsadapter.Filesystem via PROPFIND Depth: 0.
func (f *Filesystem) Stat(ctx context.Context, name string) (fsadapter.ObjectInfo, error) {
	var info fsadapter.ObjectInfo
	err := f.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest("PROPFIND", f.url(name), strings.NewReader(propfindBody))
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		req.Header.Set("Depth", "0")
		req.Header.Set("Content-Type", "application/xml")
		resp, err := f.do(ctx, req)
		if err != nil {
			return fmt.Errorf("PROPFIND %s: %w", name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 207 && resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			rerr := statusError("PROPFIND", name, resp.StatusCode, b)
			if !retryable(resp.StatusCode) {
				return &fsadapter.Permanent{Err: rerr}
			}
			return rerr
		}
		var ms multistatus
		if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
			return &fsadapter.Permanent{Err: fmt.Errorf("decoding PROPFIND response for %s: %w", name, err)}
		}
		if len(ms.Responses) == 0 {
			return &fsadapter.Permanent{Err: cuberr.New(cuberr.KindNotFound, fmt.Errorf("no PROPFIND entry for %s", name))}
		}
		info = ms.Responses[0].toObjectInfo(name)
		return nil
	})
	return info, err
}

// List implements fsadapter.Filesystem via PROPFIND Depth: infinity.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]fsadapter.ObjectInfo, error) {
	var out []fsadapter.ObjectInfo
	err := f.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest("PROPFIND", f.url(prefix), strings.NewReader(propfindBody))
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		req.Header.Set("Depth", "infinity")
		req.Header.Set("Content-Type", "application/xml")
		resp, err := f.do(ctx, req)
		if err != nil {
			return fmt.Errorf("PROPFIND %s: %w", prefix, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			out = nil
			return nil
		}
		if resp.StatusCode != 207 {
			b, _ := io.ReadAll(resp.Body)
			rerr := statusError("PROPFIND", prefix, resp.StatusCode, b)
			if !retryable(resp.StatusCode) {
				return &fsadapter.Permanent{Err: rerr}
			}
			return rerr
		}
		var ms multistatus
		if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
			return &fsadapter.Permanent{Err: fmt.Errorf("decoding PROPFIND response for %s: %w", prefix, err)}
		}
		basePath := ""
		if u, perr := neturl.Parse(f.baseURL); perr == nil {
			basePath = u.Path
		}
		out = out[:0]
		for _, r := range ms.Responses {
			rel := r.Href
			if strings.HasPrefix(rel, f.baseURL) {
				rel = strings.TrimPrefix(rel, f.baseURL)
			} else {
				rel = strings.TrimPrefix(rel, basePath)
			}
			rel = strings.Trim(rel, "/")
			if rel == strings.Trim(prefix, "/") {
				continue // skip the collection itself
			}
			out = append(out, r.toObjectInfo(rel))
		}
		return nil
	})
	return out, err
}

// Remove implements fsadapter.Filesystem, treating 404 as success.
func (f *Filesystem) Remove(ctx context.Context, name string) error {
	return f.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest(http.MethodDelete, f.url(name), nil)
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		resp, err := f.do(ctx, req)
		if err != nil {
			return fmt.Errorf("DELETE %s: %w", name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}
		b, _ := io.ReadAll(resp.Body)
		rerr := statusError("DELETE", name, resp.StatusCode, b)
		if !retryable(resp.StatusCode) {
			return &fsadapter.Permanent{Err: rerr}
		}
		return rerr
	})
}

// EnsureDir implements fsadapter.Filesystem via MKCOL, creating parent
// collections first since most WebDAV servers reject MKCOL when the
// parent collection doesn't exist.
func (f *Filesystem) EnsureDir(ctx context.Context, name string) error {
	name = strings.Trim(name, "/")
	if name == "" || name == "." {
		return nil
	}
	parts := strings.Split(name, "/")
	cur := ""
	for _, part := range parts {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		if err := f.mkcol(ctx, cur); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filesystem) mkcol(ctx context.Context, name string) error {
	return f.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest("MKCOL", f.url(name), nil)
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		resp, err := f.do(ctx, req)
		if err != nil {
			return fmt.Errorf("MKCOL %s: %w", name, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated, http.StatusMethodNotAllowed: // already exists
			return nil
		}
		b, _ := io.ReadAll(resp.Body)
		rerr := statusError("MKCOL", name, resp.StatusCode, b)
		if !retryable(resp.StatusCode) {
			return &fsadapter.Permanent{Err: rerr}
		}
		return rerr
	})
}

type writeHandle struct {
	fs        *Filesystem
	finalName string
	tmpName   string
	buf       bytes.Buffer
	done      bool
}

func (w *writeHandle) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Finalize PUTs the buffered bytes to the temp name, then MOVEs it to
// the final name with Overwrite: T. On servers that reject the
// overwrite, the existing object at the final name is deleted and the
// MOVE is retried.
func (w *writeHandle) Finalize(ctx context.Context) error {
	if w.done {
		return nil
	}
	if err := w.put(ctx); err != nil {
		return err
	}
	if err := w.move(ctx); err != nil {
		_ = w.fs.Remove(ctx, w.tmpName)
		return err
	}
	w.done = true
	return nil
}

func (w *writeHandle) put(ctx context.Context) error {
	data := w.buf.Bytes()
	return w.fs.retry.Do(ctx, func(attempt int) error {
		req, err := http.NewRequest(http.MethodPut, w.fs.url(w.tmpName), bytes.NewReader(data))
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		req.ContentLength = int64(len(data))
		resp, err := w.fs.do(ctx, req)
		if err != nil {
			return fmt.Errorf("PUT %s: %w", w.tmpName, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return nil
		}
		b, _ := io.ReadAll(resp.Body)
		rerr := statusError("PUT", w.tmpName, resp.StatusCode, b)
		if !retryable(resp.StatusCode) {
			return &fsadapter.Permanent{Err: rerr}
		}
		return rerr
	})
}

func (w *writeHandle) move(ctx context.Context) error {
	do := func() error {
		req, err := http.NewRequest("MOVE", w.fs.url(w.tmpName), nil)
		if err != nil {
			return &fsadapter.Permanent{Err: err}
		}
		req.Header.Set("Destination", w.fs.url(w.finalName))
		req.Header.Set("Overwrite", "T")
		resp, err := w.fs.do(ctx, req)
		if err != nil {
			return fmt.Errorf("MOVE %s -> %s: %w", w.tmpName, w.finalName, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated, http.StatusNoContent:
			return nil
		case http.StatusPreconditionFailed, http.StatusMethodNotAllowed:
			// Overwrite rejected; delete the destination and let the
			// retry policy repeat the MOVE.
			if rmErr := w.fs.Remove(ctx, w.finalName); rmErr != nil {
				return &fsadapter.Permanent{Err: rmErr}
			}
			return fmt.Errorf("MOVE %s -> %s: destination existed, retrying after delete", w.tmpName, w.finalName)
		}
		b, _ := io.ReadAll(resp.Body)
		rerr := statusError("MOVE", w.tmpName, resp.StatusCode, b)
		if !retryable(resp.StatusCode) {
			return &fsadapter.Permanent{Err: rerr}
		}
		return rerr
	}
	return w.fs.retry.Do(ctx, func(attempt int) error { return do() })
}

// Discard removes the staged temp object without publishing it.
func (w *writeHandle) Discard(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	return w.fs.Remove(ctx, w.tmpName)
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string   `xml:"href"`
	PropStat propstat `xml:"propstat"`
}

type propstat struct {
	Prop prop `xml:"prop"`
}

type prop struct {
	ContentLength string       `xml:"getcontentlength"`
	LastModified  string       `xml:"getlastmodified"`
	ResourceType  resourceType `xml:"resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

func (r response) toObjectInfo(name string) fsadapter.ObjectInfo {
	size, _ := strconv.ParseInt(r.PropStat.Prop.ContentLength, 10, 64)
	modTime, _ := http.ParseTime(r.PropStat.Prop.LastModified)
	return fsadapter.ObjectInfo{
		Name:    name,
		Size:    size,
		ModTime: modTime,
		IsDir:   r.PropStat.Prop.ResourceType.Collection != nil,
	}
}
