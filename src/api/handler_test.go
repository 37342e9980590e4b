package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

func TestNewHandlerTable(t *testing.T) {
	table := NewHandlerTable(&fakeStore{}, nil, nil)
	assert.Len(t, table, 2)
	assert.Contains(t, table, inter.MsgRobotInfo)
	assert.Contains(t, table, inter.MsgRobotStatus)
}

type countingPresence struct{ seen []string }

func (c *countingPresence) Touch(id string)                   { c.seen = append(c.seen, id) }
func (c *countingPresence) Query(string) inter.PresenceStatus { return inter.StatusOffline }

func TestNewHandlerTable_Presence(t *testing.T) {
	presence := &countingPresence{}
	table := NewHandlerTable(&fakeStore{}, nil, nil, WithPresence(presence))
	ctx := context.Background()

	require.NoError(t, table[inter.MsgRobotInfo](ctx, []byte(infoJSON)))
	require.NoError(t, table[inter.MsgRobotStatus](ctx, []byte(statusJSON)))
	// 解析失败的消息不刷新在线状态
	require.Error(t, table[inter.MsgRobotStatus](ctx, []byte(`{}`)))

	assert.Equal(t, []string{"robot01", "robot01"}, presence.seen)
}

func TestHandleRobotStatus_Fields(t *testing.T) {
	store := &fakeStore{}
	h := NewBusinessHandler(store, func() time.Time { return fixedNow }, nil)

	err := h.HandleRobotStatus(context.Background(),
		[]byte(`{"robot_id": "robot01", "map_id": "map02", "position_x": 5, "position_y": -1.25, "position_yaw": 3.14}`))
	require.NoError(t, err)

	require.Len(t, store.statuses, 1)
	st := store.statuses[0]
	assert.Equal(t, 5.0, st.PositionX)
	assert.Equal(t, -1.25, st.PositionY)
	assert.Equal(t, 3.14, st.PositionYaw)
	assert.True(t, st.RegisteredAt.Equal(fixedNow))
}

func TestHandlers_DecodeErrors(t *testing.T) {
	h := NewBusinessHandler(&fakeStore{}, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		handler inter.MessageHandler
		payload string
	}{
		{"info empty", h.HandleRobotInfo, ``},
		{"info null", h.HandleRobotInfo, `null`},
		{"info wrong type", h.HandleRobotInfo, `{"robot_id": 1, "robot_name": "x"}`},
		{"info empty id", h.HandleRobotInfo, `{"robot_id": "", "robot_name": "x"}`},
		{"info trailing", h.HandleRobotInfo, `{"robot_id": "a", "robot_name": "x"} {}`},
		{"status missing pose", h.HandleRobotStatus, `{"robot_id": "a", "map_id": "m", "position_x": 1}`},
		{"status array", h.HandleRobotStatus, `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.handler(ctx, []byte(tc.payload))
			var decodeErr *inter.HandlerDecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestHandlers_StoreErrorPassesThrough(t *testing.T) {
	store := &fakeStore{fail: errors.New("db down")}
	h := NewBusinessHandler(store, nil, nil)

	err := h.HandleRobotInfo(context.Background(), []byte(infoJSON))
	assert.ErrorIs(t, err, store.fail)

	var decodeErr *inter.HandlerDecodeError
	assert.False(t, errors.As(err, &decodeErr))
}
