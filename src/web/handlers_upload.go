package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chungweeeei/RobotAPI/src/datastore"
	"github.com/chungweeeei/RobotAPI/src/inter"
)

const (
	headerFileID    = "x-file-id"
	headerFileName  = "x-file-name"
	headerStartByte = "x-start-byte"
)

// uploadResult 上传完成后的响应
type uploadResult struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	Checksum uint16 `json:"checksum"`
}

type progressResult struct {
	Uploaded int64 `json:"uploaded_byte"`
}

type errorResult struct {
	Error    string `json:"error"`
	Uploaded *int64 `json:"uploaded_byte,omitempty"`
}

// uploadHandler 流式接收文件
// 请求中断时会话保留已接收的字节，客户端查询进度后从断点继续
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.Header.Get(headerFileID)
	fileName := r.Header.Get(headerFileName)
	startRaw := r.Header.Get(headerStartByte)
	if fileID == "" || fileName == "" || startRaw == "" {
		writeError(w, http.StatusBadRequest, "missing x-file-id, x-file-name or x-start-byte header", nil)
		return
	}
	startByte, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || startByte < 0 {
		writeError(w, http.StatusBadRequest, "invalid x-start-byte header", nil)
		return
	}
	if _, err := datastore.CleanFileName(fileName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	log := s.logger.With("file_id", fileID, "file_name", fileName)
	if s.uploads.Register(fileID, fileName, startByte) {
		log.Info("Web: 新的上传会话", "start_byte", startByte)
	}

	uploaded, err := s.uploads.Progress(fileID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error(), nil)
		return
	}
	remaining := s.opts.MaxSize - uploaded
	if r.ContentLength > remaining {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload.max_size", &uploaded)
		return
	}

	body := http.MaxBytesReader(w, r.Body, remaining)
	buf := make([]byte, s.opts.ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			total, aerr := s.uploads.Append(fileID, buf[:n])
			if aerr != nil {
				// 会话在传输过程中被丢弃
				log.Warn("Web: 追加失败", "error", aerr)
				writeError(w, http.StatusConflict, aerr.Error(), nil)
				return
			}
			uploaded = total
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			break
		}

		var tooLarge *http.MaxBytesError
		if errors.As(rerr, &tooLarge) {
			log.Warn("Web: 文件超过上限", "uploaded_byte", uploaded, "limit", s.opts.MaxSize)
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload.max_size", &uploaded)
			return
		}
		log.Warn("Web: 上传中断，保留已接收数据", "uploaded_byte", uploaded, "error", rerr)
		writeError(w, http.StatusInternalServerError, "upload interrupted", &uploaded)
		return
	}

	// 客户端断开不应打断落盘
	ctx := context.WithoutCancel(r.Context())
	rec, ok, err := s.uploads.Finalize(ctx, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), &uploaded)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "upload already finalized", nil)
		return
	}
	if s.store != nil {
		if err := s.store.NotifyDeployed(ctx, rec); err != nil {
			log.Warn("Web: 部署通知失败", "error", err)
		}
	}

	log.Info("Web: 文件已上传", "size", rec.Size, "checksum", rec.Checksum)
	writeJSON(w, http.StatusOK, uploadResult{
		FileID:   fileID,
		FileName: rec.Name,
		Size:     rec.Size,
		Checksum: rec.Checksum,
	})
}

// progressHandler 查询断点；未注册的 ID 返回 0
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "missing file_id", nil)
		return
	}
	n, err := s.uploads.Progress(fileID)
	if err != nil && !errors.Is(err, inter.ErrNotRegistered) {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, progressResult{Uploaded: n})
}

func (s *Server) abortHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "missing file_id", nil)
		return
	}
	if !s.uploads.Abort(fileID) {
		writeError(w, http.StatusNotFound, inter.ErrNotRegistered.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUploadsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.uploads.List())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string, uploaded *int64) {
	writeJSON(w, code, errorResult{Error: msg, Uploaded: uploaded})
}
