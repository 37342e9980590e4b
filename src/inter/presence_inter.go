package inter

// PresenceStatus 机器人在线状态，由最近一次上报时间推算
type PresenceStatus int

const (
	StatusOffline PresenceStatus = iota
	StatusOnline
	StatusDelayed
)

func (s PresenceStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusDelayed:
		return "delayed"
	default:
		return "offline"
	}
}

// PresenceTracker 记录每个机器人最近一次上报
type PresenceTracker interface {
	// Touch 收到该机器人的任意消息
	Touch(robotID string)

	// Query 当前状态；从未上报过的机器人为 StatusOffline
	Query(robotID string) PresenceStatus
}
