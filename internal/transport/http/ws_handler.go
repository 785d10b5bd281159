package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/logger"
)

// WSHandler streams a learner's committed events and accepts progress commands.
type WSHandler struct {
	svc      Services
	log      *logger.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewWSHandler(svc Services) *WSHandler {
	log := svc.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		svc: svc,
		log: log,
		now: time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

type lessonPayload struct {
	ModuleID         string `json:"moduleId"`
	LessonID         string `json:"lessonId"`
	TimeSpentMinutes int    `json:"timeSpentMinutes"`
}

type togglePayload struct {
	Day    int    `json:"day"`
	ItemID string `json:"itemId"`
}

type checkAnswerPayload struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selected"`
}

type submitQuizPayload struct {
	ModuleID  string                    `json:"moduleId"`
	Answers   []domain.AnswerSubmission `json:"answers"`
	StartedAt *time.Time                `json:"startedAt,omitempty"`
}

type telemetryPayload struct {
	Kind   string `json:"kind"`
	Day    int    `json:"day"`
	Field  string `json:"field"`
	Words  int    `json:"words"`
	Scroll int64  `json:"scrollMs"`
}

type reapplyPassPayload struct {
	ModuleID string `json:"moduleId"`
}

type resolveUnlocksPayload struct {
	CompletedModuleSlug string `json:"completedModuleSlug"`
}

type unlocksResult struct {
	Unlocked []string `json:"unlocked"`
}

type connectedPayload struct {
	LearnerID string `json:"learnerId"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the progression use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learnerId")
	if learnerID == "" {
		http.Error(w, "missing learnerId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.svc.Feed.Subscribe(learnerID)
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "learner_id", learnerID, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "event", Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "connected", Payload: connectedPayload{LearnerID: learnerID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.dispatch(r.Context(), learnerID, inbound)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, learnerID string, in inboundMessage) outboundMessage {
	var (
		typ    string
		result any
		err    error
	)
	switch in.Type {
	case "lessonComplete":
		var p lessonPayload
		if err = decode(in.Payload, &p); err == nil {
			typ = "lessonResult"
			result, err = h.svc.Progress.RecordLessonComplete(ctx, learnerID, p.ModuleID, p.LessonID, p.TimeSpentMinutes)
		}
	case "toggleItem":
		var p togglePayload
		if err = decode(in.Payload, &p); err == nil {
			typ = "checklistResult"
			result, err = h.svc.Progress.ToggleChecklistItem(ctx, learnerID, p.Day, p.ItemID)
		}
	case "checkAnswer":
		var p checkAnswerPayload
		if err = decode(in.Payload, &p); err == nil {
			typ = "answerFeedback"
			result, err = h.svc.Quizzes.CheckAnswer(ctx, p.QuestionID, p.Selected)
		}
	case "submitQuiz":
		var p submitQuizPayload
		if err = decode(in.Payload, &p); err == nil {
			startedAt := h.now()
			if p.StartedAt != nil {
				startedAt = *p.StartedAt
			}
			typ = "quizResult"
			result, err = h.svc.Quizzes.SubmitAttempt(ctx, learnerID, p.ModuleID, p.Answers, startedAt)
		}
	case "reapplyPass":
		var p reapplyPassPayload
		if err = decode(in.Payload, &p); err == nil {
			typ = "quizResult"
			result, err = h.svc.Quizzes.ReapplyPass(ctx, learnerID, p.ModuleID)
		}
	case "resolveUnlocks":
		var p resolveUnlocksPayload
		if err = decode(in.Payload, &p); err == nil {
			var unlocked []string
			typ = "unlocksResult"
			unlocked, err = h.svc.Unlocks.ResolveUnlocks(ctx, learnerID, p.CompletedModuleSlug)
			result = unlocksResult{Unlocked: nonNil(unlocked)}
		}
	case "telemetry":
		var p telemetryPayload
		if err = decode(in.Payload, &p); err == nil {
			typ = "telemetryResult"
			result, err = h.telemetry(ctx, learnerID, p)
		}
	default:
		return outboundMessage{Type: "error", ID: in.ID, Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}}
	}
	if err != nil {
		_, payload := classify(err)
		if payload.Code == "internal" {
			h.log.Error("ws command failed", "learner_id", learnerID, "command", in.Type, "error", err)
		}
		return outboundMessage{Type: "error", ID: in.ID, Payload: payload}
	}
	return outboundMessage{Type: typ, ID: in.ID, Payload: result}
}

func (h *WSHandler) telemetry(ctx context.Context, learnerID string, p telemetryPayload) (any, error) {
	a := h.svc.Achievements
	switch p.Kind {
	case "dayStart":
		return a.RecordDayStart(ctx, learnerID, p.Day)
	case "dayAccess":
		return a.RecordDayAccess(ctx, learnerID, p.Day)
	case "wordCount":
		return a.RecordWordCount(ctx, learnerID, p.Field, p.Words)
	case "scrollTime":
		return a.RecordScrollTime(ctx, learnerID, p.Day, time.Duration(p.Scroll)*time.Millisecond)
	case "formEdit":
		return a.RecordFormEdit(ctx, learnerID, p.Field)
	case "check":
		day := p.Day
		return a.CheckAchievements(ctx, learnerID, &day)
	}
	return nil, domain.ErrInvalidTelemetry
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.ErrInvalidSubmission
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrInvalidSubmission
	}
	return nil
}
