package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/access"
	"youth-mis/internal/apperr"
	"youth-mis/internal/logger"
	"youth-mis/internal/middleware"
	"youth-mis/internal/model"
)

// TableHandler serves /rest/v1/:table as the caller.
type TableHandler struct {
	Rows   *access.Service
	Logger *logger.Logger
}

// ParseQuery reads a table query from URL parameters:
//
//	col=eq.value  order=col.desc  limit=n  offset=n  join=table:col,...
func ParseQuery(table string, values url.Values) (model.Query, error) {
	const op = "select"
	q := model.Query{Table: table}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		v := vals[0]
		switch key {
		case "select", "apikey", "token":
		case "order":
			col, dir, _ := strings.Cut(v, ".")
			q.Order = col
			switch dir {
			case "", "asc":
			case "desc":
				q.Desc = true
			default:
				return q, apperr.FieldError(op, "order", "direction must be asc or desc")
			}
		case "limit", "offset":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return q, apperr.FieldError(op, key, "must be a non-negative integer")
			}
			if key == "limit" {
				q.Limit = n
			} else {
				q.Offset = n
			}
		case "join":
			for _, part := range strings.Split(v, ",") {
				jt, on, ok := strings.Cut(strings.TrimSpace(part), ":")
				if !ok || jt == "" || on == "" {
					return q, apperr.FieldError(op, "join", "expected table:column")
				}
				q.Joins = append(q.Joins, model.Join{Table: jt, On: on})
			}
		default:
			val, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				return q, apperr.FieldError(op, key, "only eq. filters are supported")
			}
			if q.Eq == nil {
				q.Eq = map[string]any{}
			}
			q.Eq[key] = val
		}
	}
	return q, nil
}

func (h *TableHandler) List(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	q, err := ParseQuery(c.Param("table"), c.Request.URL.Query())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	rows, err := h.Rows.Select(c.Request.Context(), caller, q)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	if rows == nil {
		rows = []model.Row{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *TableHandler) Get(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	row, err := h.Rows.Get(c.Request.Context(), caller, c.Param("table"), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// decodeRows accepts a single object or an array of objects.
func decodeRows(data []byte) ([]model.Row, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, apperr.New(apperr.KindValidation, "insert", "empty body")
	}
	var rows []model.Row
	if data[0] == '[' {
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, apperr.New(apperr.KindValidation, "insert", "Invalid request")
		}
	} else {
		var row model.Row
		if err := json.Unmarshal(data, &row); err != nil || row == nil {
			return nil, apperr.New(apperr.KindValidation, "insert", "Invalid request")
		}
		rows = []model.Row{row}
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindValidation, "insert", "no rows")
	}
	return rows, nil
}

func (h *TableHandler) Create(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	data, err := c.GetRawData()
	if err != nil {
		badRequest(c, "insert", "Invalid request")
		return
	}
	rows, err := decodeRows(data)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	created, err := h.Rows.Insert(c.Request.Context(), caller, c.Param("table"), rows)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *TableHandler) Update(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	var patch model.Row
	if err := c.ShouldBindJSON(&patch); err != nil || len(patch) == 0 {
		badRequest(c, "update", "Invalid request")
		return
	}
	row, err := h.Rows.Update(c.Request.Context(), caller, c.Param("table"), c.Param("id"), patch)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *TableHandler) Delete(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	if err := h.Rows.Delete(c.Request.Context(), caller, c.Param("table"), c.Param("id")); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
