package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungweeeei/RobotAPI/src/config"
	"github.com/chungweeeei/RobotAPI/src/logger"
)

// =============================================================================
// Simulation Helpers (re-implemented to behave like external robot software)
// =============================================================================

// packSimulatedFrame builds u32_le(len name) | name | u32_le(len payload) | payload by hand.
func packSimulatedFrame(name string, payload []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.WriteString(name)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func sendFrame(t *testing.T, conn net.Conn, name string, payload string) {
	t.Helper()
	frame := packSimulatedFrame(name, []byte(payload))
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ack := make([]byte, 3)
	if _, err := io.ReadFull(conn, ack); err != nil {
		t.Fatalf("Failed to read ACK for %s: %v", name, err)
	}
	if string(ack) != "ACK" {
		t.Fatalf("Expected ACK, got %q", ack)
	}
}

// startTestApp 启动完整服务，端口由系统分配
func startTestApp(t *testing.T) *App {
	t.Helper()
	tmp := t.TempDir()

	t.Setenv("ROBOTAPI_TELEMETRY_ADDR", "127.0.0.1:0")
	t.Setenv("ROBOTAPI_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("ROBOTAPI_UPLOAD_DIR", filepath.Join(tmp, "uploads"))
	t.Setenv("ROBOTAPI_DATABASE_SQLITE_PATH", filepath.Join(tmp, "sim.db"))

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	log := logger.Discard()
	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, cfg, log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("App did not stop")
		}
	})
	return app
}

func TestExternalSoftwareSimulation(t *testing.T) {
	app := startTestApp(t)

	conn, err := net.DialTimeout("tcp", app.Telemetry.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// 1. 注册 + 位姿
	sendFrame(t, conn, "robot_info", `{"robot_id": "sim01", "robot_name": "simulator"}`)
	sendFrame(t, conn, "robot_status", `{"robot_id": "sim01", "map_id": "floor2", "position_x": 1.5, "position_y": -2, "position_yaw": 0.5}`)

	// 2. 未知消息和损坏的 JSON 也会收到 ACK
	sendFrame(t, conn, "robot_battery", `{"level": 80}`)
	sendFrame(t, conn, "robot_status", `{"robot_id": "sim01"`)

	rec, err := app.Store.LoadRobot(context.Background(), "sim01")
	require.NoError(t, err)
	assert.Equal(t, "simulator", rec.Info.RobotName)
	require.NotNil(t, rec.Status)
	assert.Equal(t, "floor2", rec.Status.MapID)
	assert.Equal(t, -2.0, rec.Status.PositionY)
}

func TestMockRobotAgainstServer(t *testing.T) {
	app := startTestApp(t)

	robot := &MockRobot{
		Addr:      app.Telemetry.Addr().String(),
		RobotID:   "robot01",
		RobotName: "01",
		MapID:     "map01",
		Interval:  10 * time.Millisecond,
		Count:     3,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, robot.Run(ctx))

	rec, err := app.Store.LoadRobot(ctx, "robot01")
	require.NoError(t, err)
	require.NotNil(t, rec.Status)
	assert.Equal(t, "map01", rec.Status.MapID)
	// 第三次上报 angle = 2π/18
	assert.InDelta(t, 0.349, rec.Status.PositionYaw, 0.001)
}

func TestResumableUploadOverHTTP(t *testing.T) {
	app := startTestApp(t)
	base := "http://" + app.Web.Addr().String()
	content := strings.Repeat("robot-map-", 20)

	post := func(start int, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, base+"/v1/file/upload", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("x-file-id", "map-upload")
		req.Header.Set("x-file-name", "floor2.pgm")
		req.Header.Set("x-start-byte", strconv.Itoa(start))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	// 模拟第一段传输后断开：直接写入会话
	app.Uploads.Register("map-upload", "floor2.pgm", 0)
	_, err := app.Uploads.Append("map-upload", []byte(content[:100]))
	require.NoError(t, err)

	resp, err := http.Get(base + "/v1/file/upload/progress?file_id=map-upload")
	require.NoError(t, err)
	var progress struct {
		Uploaded int64 `json:"uploaded_byte"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	resp.Body.Close()
	require.Equal(t, int64(100), progress.Uploaded)

	resp = post(100, content[100:])
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(app.cfg.Upload.Dir, "floor2.pgm"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.False(t, app.Uploads.Exists("map-upload"))

	stored, err := app.Store.LoadFile(context.Background(), "floor2.pgm")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), stored.Size)
	assert.NotNil(t, stored.DeployedAt)
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	err := Execute(context.Background(), []string{"bogus"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "mock-robot")
}
