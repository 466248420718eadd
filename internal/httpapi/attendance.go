package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"academyportal/internal/apperr"
	"academyportal/internal/attendance"
)

func parseID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, field)
	}
	return id, nil
}

// occurrenceQuery reads ?scheduleId=&date=. The date is validated by the
// service, after authorization.
func occurrenceQuery(c *gin.Context) (int64, string, error) {
	id, err := parseID(c.Query("scheduleId"), "scheduleId")
	if err != nil {
		return 0, "", err
	}
	return id, c.Query("date"), nil
}

// GET /api/attendance/checkin-token?scheduleId=&date=
func (s *Server) issueToken(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	scheduleID, date, err := occurrenceQuery(c)
	if err != nil {
		fail(c, err)
		return
	}
	issued, err := s.checkin.IssueToken(c.Request.Context(), actor, scheduleID, date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

type redeemRequest struct {
	Token string `json:"token" binding:"required"`
}

// POST /api/attendance/checkin
func (s *Server) redeem(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: token is required", apperr.ErrInvalidInput))
		return
	}

	res, err := s.checkin.Redeem(c.Request.Context(), actor, req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	if res.AlreadyCheckedIn {
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"alreadyCheckedIn": true,
			"message":          "You are already checked in for this class.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("Checked in to %s.", res.Info.ClassName),
		"attendanceId": res.AttendanceID,
		"info":         res.Info,
	})
}

type rollCallRequest struct {
	ScheduleID int64             `json:"scheduleId" binding:"required"`
	Date       string            `json:"date" binding:"required"`
	Marks      []attendance.Mark `json:"marks" binding:"required"`
}

// POST /api/attendance/roll-call
func (s *Server) rollCall(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req rollCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: scheduleId, date and marks are required", apperr.ErrInvalidInput))
		return
	}
	res, err := s.checkin.RecordRollCall(c.Request.Context(), actor, req.ScheduleID, req.Date, req.Marks)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recorded": res.Recorded, "failed": res.Failed})
}

// GET /api/attendance/occurrence?scheduleId=&date=
func (s *Server) occurrence(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	scheduleID, date, err := occurrenceQuery(c)
	if err != nil {
		fail(c, err)
		return
	}
	recs, info, err := s.checkin.Occurrence(c.Request.Context(), actor, scheduleID, date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "info": info, "records": recs})
}

// DELETE /api/attendance/:id
func (s *Server) removeAttendance(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.checkin.RemoveAttendance(c.Request.Context(), actor, id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
