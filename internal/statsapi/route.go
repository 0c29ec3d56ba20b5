package statsapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewServer builds a gin HTTP server exposing GET /stats as a JSON
// rendering of c.Snapshot(), bound to addr. It does not start listening;
// call the returned server's ListenAndServe.
func NewServer(addr string, c *Counters) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/stats", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Snapshot())
	})

	return &http.Server{Addr: addr, Handler: r}
}
