package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mentorgrid/mentorgrid/libs/httpx"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/availability"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
)

type slotItem struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Datetime string `json:"datetime"`
}

// Slots lists a mentor's open hourly slot starts over a date range
// (default the next seven days).
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mentorID := strings.TrimSpace(r.URL.Query().Get("mentor_id"))
	if mentorID == "" {
		httpx.Error(w, http.StatusBadRequest, "mentor_id is required")
		return
	}

	now := time.Now().In(h.location)
	from := now
	to := now.AddDate(0, 0, 7)

	if raw := strings.TrimSpace(r.URL.Query().Get("start_date")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, h.location)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid start_date")
			return
		}
		from = d
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end_date")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, h.location)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid end_date")
			return
		}
		to = d
	}
	if to.Before(from) {
		httpx.Error(w, http.StatusBadRequest, "end_date before start_date")
		return
	}

	windows, err := h.windows.ListWindows(r.Context(), mentorID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	if len(windows) == 0 {
		writeSlots(w, nil)
		return
	}

	// Cancelled appointments do not block; only active ones count as busy.
	rangeEnd := to.AddDate(0, 0, 1)
	booked, err := h.appointments.ListActiveIntervals(r.Context(), mentorID, from, rangeEnd)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load booked slots")
		return
	}

	busy := make([]availability.Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, availability.Interval{Start: a.ScheduledAt.In(h.location), End: a.EndTime().In(h.location)})
	}

	wins := make([]availability.Window, 0, len(windows))
	for _, win := range windows {
		wins = append(wins, availability.Window{
			Weekday:     win.Weekday,
			StartMinute: win.StartMinute,
			EndMinute:   win.EndMinute,
		})
	}

	duration := time.Duration(defaultDurationMinutes) * time.Minute
	starts := availability.SlotStarts(wins, busy, from, to, duration, slotStep, now)

	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{
			Date:     s.Format("2006-01-02"),
			Time:     s.Format("15:04"),
			Datetime: s.Format(time.RFC3339),
		})
	}
	writeSlots(w, items)
}

func writeSlots(w http.ResponseWriter, items []slotItem) {
	if items == nil {
		items = []slotItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"availableSlots": items,
		"totalSlots":     len(items),
	})
}

type windowItem struct {
	ID          string `json:"id,omitempty"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"startMinute"`
	EndMinute   int    `json:"endMinute"`
}

// Windows serves a mentor's recurring weekly schedule: GET lists it, PUT
// replaces one weekday for the authenticated mentor.
func (h *Handler) Windows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listWindows(w, r)
	case http.MethodPut:
		h.replaceWindows(w, r)
	default:
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listWindows(w http.ResponseWriter, r *http.Request) {
	mentorID := strings.TrimSpace(r.URL.Query().Get("mentor_id"))
	if mentorID == "" {
		httpx.Error(w, http.StatusBadRequest, "mentor_id is required")
		return
	}

	windows, err := h.windows.ListWindows(r.Context(), mentorID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}

	items := make([]windowItem, 0, len(windows))
	for _, win := range windows {
		items = append(items, windowItem{
			ID:          win.ID,
			Weekday:     win.Weekday,
			StartMinute: win.StartMinute,
			EndMinute:   win.EndMinute,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"windows": items,
	})
}

type replaceWindowsRequest struct {
	Weekday int `json:"weekday"`
	Windows []struct {
		StartMinute int `json:"start_minute"`
		EndMinute   int `json:"end_minute"`
	} `json:"windows"`
}

func (h *Handler) replaceWindows(w http.ResponseWriter, r *http.Request) {
	mentorID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req replaceWindowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		httpx.Error(w, http.StatusBadRequest, "weekday must be 0..6")
		return
	}

	windows := make([]model.AvailabilityWindow, 0, len(req.Windows))
	for _, win := range req.Windows {
		if win.StartMinute < 0 || win.EndMinute > 24*60 || win.StartMinute >= win.EndMinute {
			httpx.Error(w, http.StatusBadRequest, "invalid window range")
			return
		}
		windows = append(windows, model.AvailabilityWindow{
			MentorID:    mentorID,
			Weekday:     req.Weekday,
			StartMinute: win.StartMinute,
			EndMinute:   win.EndMinute,
		})
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].StartMinute < windows[j].StartMinute })
	for i := 1; i < len(windows); i++ {
		if windows[i].StartMinute < windows[i-1].EndMinute {
			httpx.Error(w, http.StatusBadRequest, "windows overlap")
			return
		}
	}

	if err := h.windows.ReplaceWeekday(r.Context(), mentorID, req.Weekday, windows); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to save availability")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}
