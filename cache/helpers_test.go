package cache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/agentuity/go-dcache/config"
	"github.com/agentuity/go-dcache/logger"
	"github.com/agentuity/go-dcache/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	stringType = types.For[string]("string")
	intType    = types.For[int]("int")
	anyType    = types.For[any]("any")
)

type user struct {
	Name  string
	Email string
	Age   int
}

var userType = types.For[user]("user")

func randomKey() string {
	return "key-" + uuid.NewString()
}

func localConfig(id string) *config.CacheConfig {
	return &config.CacheConfig{
		ID:        id,
		Kind:      config.KindLocal,
		KeyType:   stringType,
		ValueType: stringType,
		Timeout:   config.DefaultTimeout,
	}
}

func remoteConfig(id string, kind config.Kind, addr string) *config.CacheConfig {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return &config.CacheConfig{
		ID:        id,
		Kind:      kind,
		KeyType:   stringType,
		ValueType: stringType,
		Endpoint:  host,
		Port:      port,
		Timeout:   config.DefaultTimeout,
	}
}

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

func newTestFactory(t *testing.T, opts ...Option) (*Factory, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	return NewFactory(append([]Option{WithLogger(log)}, opts...)...), log
}

func buildPlain(t *testing.T, f *Factory, cfg *config.CacheConfig) Cache {
	t.Helper()
	c, err := f.Build(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func buildFailover(t *testing.T, f *Factory, cfg *config.CacheConfig) *FailoverCache {
	t.Helper()
	c, err := f.BuildFailover(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type fakeItem struct {
	value      []byte
	flags      uint32
	expiration int32
}

// fakeMemcached speaks enough of the memcached text protocol for gomemcache's
// get, set, add and delete.
type fakeMemcached struct {
	ln     net.Listener
	mu     sync.Mutex
	items  map[string]fakeItem
	conns  []net.Conn
	closed bool
	wg     sync.WaitGroup
}

func newFakeMemcached(t *testing.T) *fakeMemcached {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := &fakeMemcached{ln: ln, items: map[string]fakeItem{}}
	m.wg.Add(1)
	go m.accept()
	t.Cleanup(m.Close)
	return m
}

func (m *fakeMemcached) Addr() string {
	return m.ln.Addr().String()
}

// Close stops the server and drops every open connection.
func (m *fakeMemcached) Close() {
	m.ln.Close()
	m.mu.Lock()
	m.closed = true
	for _, c := range m.conns {
		c.Close()
	}
	m.conns = nil
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *fakeMemcached) item(key string) (fakeItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	return it, ok
}

func (m *fakeMemcached) accept() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			continue
		}
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		m.wg.Add(1)
		go m.serve(conn)
	}
}

func (m *fakeMemcached) serve(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "get", "gets":
			m.mu.Lock()
			for _, key := range fields[1:] {
				if it, ok := m.items[key]; ok {
					fmt.Fprintf(w, "VALUE %s %d %d %d\r\n", key, it.flags, len(it.value), 1)
					w.Write(it.value)
					w.WriteString("\r\n")
				}
			}
			m.mu.Unlock()
			w.WriteString("END\r\n")
		case "set", "add":
			if len(fields) < 5 {
				w.WriteString("ERROR\r\n")
				break
			}
			flags, _ := strconv.ParseUint(fields[2], 10, 32)
			exp, _ := strconv.ParseInt(fields[3], 10, 32)
			size, _ := strconv.Atoi(fields[4])
			data := make([]byte, size+2)
			if _, err := io.ReadFull(r, data); err != nil {
				return
			}
			m.mu.Lock()
			_, exists := m.items[fields[1]]
			if fields[0] == "add" && exists {
				w.WriteString("NOT_STORED\r\n")
			} else {
				m.items[fields[1]] = fakeItem{value: data[:size], flags: uint32(flags), expiration: int32(exp)}
				w.WriteString("STORED\r\n")
			}
			m.mu.Unlock()
		case "delete":
			m.mu.Lock()
			if _, ok := m.items[fields[1]]; ok {
				delete(m.items, fields[1])
				w.WriteString("DELETED\r\n")
			} else {
				w.WriteString("NOT_FOUND\r\n")
			}
			m.mu.Unlock()
		default:
			w.WriteString("ERROR\r\n")
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}
