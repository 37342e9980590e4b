package device_manager

import (
	"sync"
	"time"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// RobotPresence 仅保存在内存中，重启后所有机器人视为离线
type RobotPresence struct {
	lastSeen  sync.Map // map[string]time.Time
	DeathLine time.Duration
	now       func() time.Time
}

func NewRobotPresence(deathLine time.Duration) *RobotPresence {
	if deathLine <= 0 {
		deathLine = 15 * time.Second // mock robot 默认 5s 上报一次
	}
	return &RobotPresence{
		DeathLine: deathLine,
		now:       time.Now,
	}
}

func (p *RobotPresence) Touch(robotID string) {
	p.lastSeen.Store(robotID, p.now())
}

// Query 超过 DeathLine 为延迟，超过两倍 DeathLine 为离线
func (p *RobotPresence) Query(robotID string) inter.PresenceStatus {
	val, ok := p.lastSeen.Load(robotID)
	if !ok {
		return inter.StatusOffline
	}
	elapsed := p.now().Sub(val.(time.Time))
	switch {
	case elapsed < p.DeathLine:
		return inter.StatusOnline
	case elapsed < 2*p.DeathLine:
		return inter.StatusDelayed
	default:
		return inter.StatusOffline
	}
}

// LastSeen 最近一次上报时间
func (p *RobotPresence) LastSeen(robotID string) (time.Time, bool) {
	val, ok := p.lastSeen.Load(robotID)
	if !ok {
		return time.Time{}, false
	}
	return val.(time.Time), true
}

var _ inter.PresenceTracker = (*RobotPresence)(nil)
