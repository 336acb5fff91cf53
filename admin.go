package hotrod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/unkn0wn-root/hotrod/internal/transport"
	"github.com/unkn0wn-root/hotrod/internal/wire"
)

// Server tasks backing the administrative operations.
const (
	TaskCreateCache      = "@@cache@create"
	TaskGetOrCreateCache = "@@cache@getorcreate"
	TaskRemoveCache      = "@@cache@remove"
	TaskCacheNames       = "@@cache@names"
)

// CreateCache creates a cache on the server and returns a raw handle on it.
// definition is either a template name or an inline XML/JSON configuration.
// It fails with AdminError if the cache already exists, the caller lacks the
// privilege or the definition is rejected.
func (m *RemoteCacheManager) CreateCache(ctx context.Context, name, definition string) (*ByteCache, error) {
	if _, err := m.exec(ctx, TaskCreateCache, name, adminParams(name, definition)); err != nil {
		return nil, err
	}
	return m.Cache(name), nil
}

// GetOrCreateCache is CreateCache that succeeds when the cache already exists.
func (m *RemoteCacheManager) GetOrCreateCache(ctx context.Context, name, definition string) (*ByteCache, error) {
	if _, err := m.exec(ctx, TaskGetOrCreateCache, name, adminParams(name, definition)); err != nil {
		return nil, err
	}
	return m.Cache(name), nil
}

func (m *RemoteCacheManager) RemoveCache(ctx context.Context, name string) error {
	_, err := m.exec(ctx, TaskRemoveCache, name, map[string]string{"name": name})
	return err
}

// CacheNames lists the caches defined on the server, sorted.
func (m *RemoteCacheManager) CacheNames(ctx context.Context) ([]string, error) {
	raw, err := m.exec(ctx, TaskCacheNames, "", nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, &ProtocolError{Op: "exec " + TaskCacheNames, Err: fmt.Errorf("%w: cache names: %v", wire.ErrCorrupt, err)}
		}
	}
	sort.Strings(names)
	return names, nil
}

func adminParams(name, definition string) map[string]string {
	p := map[string]string{"name": name}
	d := strings.TrimSpace(definition)
	switch {
	case d == "":
	case d[0] == '<' || d[0] == '{':
		p["configuration"] = definition
	default:
		p["template"] = d
	}
	return p
}

// exec runs a server task. Server-side refusals become AdminError; transport
// and timeout failures keep their own types.
func (m *RemoteCacheManager) exec(ctx context.Context, task, cache string, params map[string]string) ([]byte, error) {
	if task != TaskCacheNames && cache == "" {
		return nil, &AdminError{Cache: cache, Task: task, Err: errors.New("cache name is required")}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	err := m.do(ctx, "exec "+task, transport.Request{
		Op: wire.OpExec,
		Body: func(e *wire.Encoder) {
			e.String(task)
			e.VInt(uint32(len(keys)))
			for _, k := range keys {
				e.String(k)
				e.Array([]byte(params[k]))
			}
		},
	}, func(_ wire.ResponseHeader, d *wire.Decoder) error {
		out = d.Array()
		return d.Err()
	})
	if err == nil {
		m.log.Info("hotrod admin task", Fields{"task": task, "cache": cache})
		return out, nil
	}
	var pe *ProtocolError
	if errors.As(err, &pe) && pe.Status != 0 {
		m.log.Warn("hotrod admin task failed", Fields{"task": task, "cache": cache, "err": err})
		return nil, &AdminError{Cache: cache, Task: task, Err: err}
	}
	return nil, err
}
