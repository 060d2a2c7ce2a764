package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/model"
)

type VersionHandler struct {
	Version string
}

func (h *VersionHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.Version, "tables": model.Tables()})
}
