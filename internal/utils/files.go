package utils

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/lehigh-university-libraries/defect-detect/internal/models"
)

func CalculateDataMD5(data []byte) string {
	hash := md5.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

func RespondWithError(c *gin.Context, message string, statusCode int) {
	c.AbortWithStatusJSON(statusCode, models.ErrorResponse{Detail: message})
}

func ExitOnError(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
