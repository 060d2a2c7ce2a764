package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/apperr"
	"youth-mis/internal/functions"
	"youth-mis/internal/logger"
	"youth-mis/internal/middleware"
	"youth-mis/internal/wire"
)

type FunctionHandler struct {
	Registry *functions.Registry
	Logger   *logger.Logger
}

func (h *FunctionHandler) Invoke(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	name := c.Param("name")
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, name, "Invalid request")
		return
	}

	out, err := h.Registry.Invoke(c.Request.Context(), caller, name, json.RawMessage(body))
	if err != nil {
		status, eb := wire.ErrorFrom(err)
		if status >= http.StatusInternalServerError {
			h.Logger.Error("function failed", "function", name, "user", caller.UserID, "error", err)
		}
		c.JSON(status, wire.FunctionResult{Success: false, Error: eb.Error, Code: eb.Code, Field: eb.Field})
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		writeError(c, h.Logger, apperr.Wrap(apperr.KindInternal, name, err))
		return
	}
	c.JSON(http.StatusOK, wire.FunctionResult{Success: true, Data: data})
}
