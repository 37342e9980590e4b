package api

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungweeeei/RobotAPI/src/inter"
	"github.com/chungweeeei/RobotAPI/src/logger"
	"github.com/chungweeeei/RobotAPI/src/protocol"
)

// fakeStore 记录调用顺序的内存存储
type fakeStore struct {
	mu       sync.Mutex
	calls    []string
	infos    []inter.RobotInfo
	statuses []inter.RobotStatus
	fail     error
}

func (f *fakeStore) UpsertRobotInfo(_ context.Context, info inter.RobotInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, "info:"+info.RobotID)
	f.infos = append(f.infos, info)
	return nil
}

func (f *fakeStore) UpsertRobotStatus(_ context.Context, st inter.RobotStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, "status:"+st.RobotID)
	f.statuses = append(f.statuses, st)
	return nil
}

func (f *fakeStore) LoadRobot(context.Context, string) (inter.RobotRecord, error) {
	return inter.RobotRecord{}, inter.ErrRobotNotFound
}
func (f *fakeStore) ListRobots(context.Context) ([]inter.RobotRecord, error) { return nil, nil }
func (f *fakeStore) RecordFile(context.Context, inter.FileRecord) error      { return nil }
func (f *fakeStore) LoadFile(context.Context, string) (inter.FileRecord, error) {
	return inter.FileRecord{}, inter.ErrFileNotFound
}
func (f *fakeStore) NotifyDeployed(context.Context, inter.FileRecord) error { return nil }
func (f *fakeStore) Close() error                                           { return nil }

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestServer(store *fakeStore, cfg inter.TelemetryConfig) *TelemetryServer {
	log := logger.Discard()
	handlers := NewHandlerTable(store, func() time.Time { return fixedNow }, log)
	return NewTelemetryServer(cfg, handlers, log)
}

// pipeConn 在 net.Pipe 上运行 HandleConn，返回客户端一端和结束信号
func pipeConn(t *testing.T, s *TelemetryServer) (net.Conn, <-chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.HandleConn(context.Background(), server)
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func mustFrame(t *testing.T, name, payload string) []byte {
	t.Helper()
	b, err := protocol.EncodeFrame(name, []byte(payload))
	require.NoError(t, err)
	return b
}

// readAcks 读取 n 个 ACK
func readAcks(t *testing.T, conn net.Conn, n int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(inter.Ack)*n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.Equal(t, "ACK", string(buf[i*3:i*3+3]))
	}
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not exit")
	}
}

const (
	infoJSON   = `{"robot_id": "robot01", "robot_name": "01"}`
	statusJSON = `{"robot_id": "robot01", "map_id": "map01", "position_x": 0.0, "position_y": 0.0, "position_yaw": 0.0}`
)

func TestHandleConn_HappyPath(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{})
	client, done := pipeConn(t, s)

	_, err := client.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	require.NoError(t, err)
	readAcks(t, client, 1)

	_, err = client.Write(mustFrame(t, inter.MsgRobotStatus, statusJSON))
	require.NoError(t, err)
	readAcks(t, client, 1)

	client.Close()
	waitClosed(t, done)

	assert.Equal(t, []string{"info:robot01", "status:robot01"}, store.Calls())
	require.Len(t, store.infos, 1)
	assert.Equal(t, "01", store.infos[0].RobotName)
	assert.True(t, store.infos[0].RegisteredAt.Equal(fixedNow))
	require.Len(t, store.statuses, 1)
	assert.Equal(t, "map01", store.statuses[0].MapID)
	assert.True(t, store.statuses[0].UpdatedAt.Equal(fixedNow))
}

func TestHandleConn_ManyFramesOneWrite(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{})
	client, done := pipeConn(t, s)

	var batch []byte
	for i := 0; i < 5; i++ {
		batch = append(batch, mustFrame(t, inter.MsgRobotStatus, statusJSON)...)
	}

	// net.Pipe 的 Write 在对端读完前阻塞，ACK 需要并发读取
	go client.Write(batch)
	readAcks(t, client, 5)

	client.Close()
	waitClosed(t, done)
	assert.Len(t, store.Calls(), 5)
}

func TestHandleConn_FragmentedFrame(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{ReadBuffer: 7})
	client, done := pipeConn(t, s)

	frame := mustFrame(t, inter.MsgRobotInfo, infoJSON)
	go func() {
		for i := range frame {
			client.Write(frame[i : i+1])
		}
	}()
	readAcks(t, client, 1)

	client.Close()
	waitClosed(t, done)
	assert.Equal(t, []string{"info:robot01"}, store.Calls())
}

func TestHandleConn_UnknownMessageStillAcked(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{})
	client, done := pipeConn(t, s)

	go client.Write(mustFrame(t, "robot_battery", `{"level": 3}`))
	readAcks(t, client, 1)

	// 连接仍然可用
	go client.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	readAcks(t, client, 1)

	client.Close()
	waitClosed(t, done)
	assert.Equal(t, []string{"info:robot01"}, store.Calls())
}

func TestHandleConn_HandlerErrorsStillAcked(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{})
	client, done := pipeConn(t, s)

	bad := [][]byte{
		mustFrame(t, inter.MsgRobotInfo, `not json`),
		mustFrame(t, inter.MsgRobotInfo, `{"robot_name": "no id"}`),
		mustFrame(t, inter.MsgRobotStatus, `{"robot_id": "r", "map_id": "m", "position_x": "1"}`),
	}
	for _, f := range bad {
		go client.Write(f)
		readAcks(t, client, 1)
	}

	store.mu.Lock()
	store.fail = errors.New("db down")
	store.mu.Unlock()
	go client.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	readAcks(t, client, 1)

	client.Close()
	waitClosed(t, done)
	assert.Empty(t, store.Calls())
}

func TestHandleConn_MalformedFrameCloses(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{MaxFrameSize: 64})
	client, done := pipeConn(t, s)

	// 声明的名称长度超过上限
	bogus := []byte{0xFF, 0xFF, 0x00, 0x00, 'x'}
	go client.Write(bogus)

	waitClosed(t, done)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(make([]byte, 3))
	assert.Error(t, err)
	assert.Empty(t, store.Calls())
}

func TestHandleConn_IdleTimeout(t *testing.T) {
	s := newTestServer(&fakeStore{}, inter.TelemetryConfig{IdleTimeout: 50 * time.Millisecond})
	_, done := pipeConn(t, s)
	waitClosed(t, done)
}

func TestTelemetryServer_Sequential(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	require.NoError(t, err)
	readAcks(t, first, 1)

	// 第二个连接在第一个结束前不会被服务
	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write(mustFrame(t, inter.MsgRobotInfo, `{"robot_id": "robot02", "robot_name": "02"}`))
	require.NoError(t, err)

	second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = second.Read(make([]byte, 3))
	require.Error(t, err)
	assert.Equal(t, []string{"info:robot01"}, store.Calls())

	first.Close()
	readAcks(t, second, 1)
	assert.Equal(t, []string{"info:robot01", "info:robot02"}, store.Calls())

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestTelemetryServer_Concurrent(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, inter.TelemetryConfig{Addr: "127.0.0.1:0", Concurrent: true})
	require.NoError(t, s.Listen())

	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	// 两个连接同时在线，各自都能收到 ACK
	_, err = second.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	require.NoError(t, err)
	readAcks(t, second, 1)
	_, err = first.Write(mustFrame(t, inter.MsgRobotInfo, infoJSON))
	require.NoError(t, err)
	readAcks(t, first, 1)

	require.NoError(t, s.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
