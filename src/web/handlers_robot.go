package web

import (
	"errors"
	"net/http"

	"github.com/chungweeeei/RobotAPI/src/inter"
)

// RobotView 机器人记录加上在线状态
type RobotView struct {
	inter.RobotRecord
	Presence string `json:"presence,omitempty"`
}

func (s *Server) robotView(rec inter.RobotRecord) RobotView {
	v := RobotView{RobotRecord: rec}
	if s.opts.Presence != nil {
		v.Presence = s.opts.Presence.Query(rec.Info.RobotID).String()
	}
	return v
}

// robotListHandler 所有机器人及最新位姿
func (s *Server) robotListHandler(w http.ResponseWriter, r *http.Request) {
	robots, err := s.store.ListRobots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	views := make([]RobotView, 0, len(robots))
	for _, rec := range robots {
		views = append(views, s.robotView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) robotHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LoadRobot(r.Context(), r.PathValue("robot_id"))
	if errors.Is(err, inter.ErrRobotNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.robotView(rec))
}

// fileHandler 已落盘文件的元数据
func (s *Server) fileHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LoadFile(r.Context(), r.PathValue("name"))
	if errors.Is(err, inter.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
