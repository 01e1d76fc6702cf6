package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/occ"
)

func (s *HTTPServer) listBoards(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	page, err := s.service.ListBoards(c.Request().Context(), caller(c), limit, c.QueryParam("cursor"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (s *HTTPServer) createBoard(c echo.Context) error {
	var in CreateBoardInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	board, err := s.service.CreateBoard(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusCreated, board.Version, board)
}

func (s *HTTPServer) getBoard(c echo.Context) error {
	view, err := s.service.GetBoard(c.Request().Context(), caller(c), c.Param("boardId"))
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, view.Board.Version, view)
}

func (s *HTTPServer) updateBoard(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var patch BoardPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	board, err := s.service.UpdateBoard(c.Request().Context(), caller(c), c.Param("boardId"), patch, pre)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, board.Version, board)
}

func (s *HTTPServer) deleteBoard(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	if err := s.service.DeleteBoard(c.Request().Context(), caller(c), c.Param("boardId"), pre); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) transferOwnership(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var body struct {
		NewOwnerID      string `json:"newOwnerId"`
		ExpectedVersion *int64 `json:"expectedVersion"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.ExpectedVersion != nil {
		pre = occ.Exactly(*body.ExpectedVersion)
	}
	board, err := s.service.TransferOwnership(c.Request().Context(), caller(c), c.Param("boardId"), body.NewOwnerID, pre)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, board.Version, board)
}

func (s *HTTPServer) leaveBoard(c echo.Context) error {
	if err := s.service.LeaveBoard(c.Request().Context(), caller(c), c.Param("boardId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) exportBoard(c echo.Context) error {
	result, err := s.service.ExportBoard(c.Request().Context(), caller(c), c.Param("boardId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) searchCards(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	resp, err := s.service.SearchCards(c.Request().Context(), caller(c), c.Param("boardId"), c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) createColumn(c echo.Context) error {
	var in CreateColumnInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	col, err := s.service.CreateColumn(c.Request().Context(), caller(c), c.Param("boardId"), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusCreated, col.Version, col)
}

func (s *HTTPServer) updateColumn(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	col, err := s.service.UpdateColumn(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("columnId"), body.Name, pre)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, col.Version, col)
}

func (s *HTTPServer) moveColumn(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var in MoveColumnInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	in.ExpectedVersion = expectedVersion(in.ExpectedVersion, pre)
	col, err := s.service.MoveColumn(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("columnId"), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, col.Version, col)
}

func (s *HTTPServer) deleteColumn(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	if err := s.service.DeleteColumn(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("columnId"), pre); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) createCard(c echo.Context) error {
	var in CreateCardInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	card, err := s.service.CreateCard(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("columnId"), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusCreated, card.Version, card)
}

func (s *HTTPServer) updateCard(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var patch CardPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	card, err := s.service.UpdateCard(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("cardId"), patch, pre)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, card.Version, card)
}

func (s *HTTPServer) moveCard(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var in MoveCardInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	in.ExpectedVersion = expectedVersion(in.ExpectedVersion, pre)
	card, err := s.service.MoveCard(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("cardId"), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, card.Version, card)
}

func (s *HTTPServer) deleteCard(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	if err := s.service.DeleteCard(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("cardId"), pre); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// expectedVersion prefers the body field and falls back to If-Match.
func expectedVersion(body *int64, pre occ.Precondition) *int64 {
	if body != nil || !pre.IsSet() {
		return body
	}
	v := pre.Version()
	return &v
}

func (s *HTTPServer) listMembers(c echo.Context) error {
	members, err := s.service.ListMembers(c.Request().Context(), caller(c), c.Param("boardId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) addMember(c echo.Context) error {
	var in AddMemberInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	m, err := s.service.AddMember(c.Request().Context(), caller(c), c.Param("boardId"), in)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusCreated, m.Version, m)
}

func (s *HTTPServer) acceptMembership(c echo.Context) error {
	m, err := s.service.AcceptMembership(c.Request().Context(), caller(c), c.Param("boardId"))
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, m.Version, m)
}

func (s *HTTPServer) changeMemberRole(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	m, err := s.service.ChangeMemberRole(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("userId"), body.Role, pre)
	if err != nil {
		return err
	}
	return withETag(c, http.StatusOK, m.Version, m)
}

func (s *HTTPServer) removeMember(c echo.Context) error {
	pre, err := ifMatch(c)
	if err != nil {
		return err
	}
	if err := s.service.RemoveMember(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("userId"), pre); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) listInvitations(c echo.Context) error {
	invitations, err := s.service.ListInvitations(c.Request().Context(), caller(c), c.Param("boardId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"invitations": invitations})
}

func (s *HTTPServer) invite(c echo.Context) error {
	var in InviteInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	created, err := s.service.InviteByEmail(c.Request().Context(), caller(c), c.Param("boardId"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *HTTPServer) revokeInvitation(c echo.Context) error {
	inv, err := s.service.RevokeInvitation(c.Request().Context(), caller(c), c.Param("boardId"), c.Param("invitationId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (s *HTTPServer) acceptInvitation(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.Token == "" {
		body.Token = c.QueryParam("token")
	}
	accepted, err := s.service.AcceptInvitation(c.Request().Context(), caller(c), body.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accepted)
}

// streamEvents relays board events as server-sent events until the client
// goes away.
func (s *HTTPServer) streamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	ch, release, err := s.service.SubscribeBoard(ctx, caller(c), boardID)
	if err != nil {
		return err
	}
	defer release()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(res, "event: ready\ndata: {\"boardId\":%q}\n\n", boardID); err != nil {
		return nil
	}
	res.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Warn("encode board event")
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			res.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
