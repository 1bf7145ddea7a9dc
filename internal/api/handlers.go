package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
	"poolmirror/internal/query"
)

type refreshPoolsResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	PoolsUpdated int    `json:"pools_updated"`
}

type refreshPositionsResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	PositionsUpdated int    `json:"positions_updated"`
}

type refreshTokensResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TokensUpdated int    `json:"tokens_updated"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listExchanges(c *gin.Context) {
	dexes, err := s.reader.ListDexes(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(dexes) == 0 {
		dexes = DefaultExchanges
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": dexes, "count": len(dexes)})
}

func (s *Server) listProtocols(c *gin.Context) {
	protocols := make([]gin.H, 0, len(Protocols))
	for _, name := range Protocols {
		protocols = append(protocols, gin.H{"name": name})
	}
	c.JSON(http.StatusOK, gin.H{"protocols": protocols, "count": len(protocols)})
}

func (s *Server) listPools(c *gin.Context) {
	criteria, err := query.ParseCriteria(c.Request.URL.Query())
	if err != nil {
		abortWithError(c, err)
		return
	}
	res, err := s.pools.QueryPools(c.Request.Context(), criteria)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getPool(c *gin.Context) {
	pool, err := s.reader.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (s *Server) listPositions(c *gin.Context) {
	ctx := c.Request.Context()
	poolID := c.Param("id")
	if _, err := s.reader.GetPool(ctx, poolID); err != nil {
		abortWithError(c, err)
		return
	}
	positions, err := s.reader.ListPositions(ctx, poolID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) listTokens(c *gin.Context) {
	limit, err := uintParam(c, "limit")
	if err != nil {
		abortWithError(c, err)
		return
	}
	offset, err := uintParam(c, "offset")
	if err != nil {
		abortWithError(c, err)
		return
	}
	tokens, err := s.reader.ListTokens(c.Request.Context(), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if tokens == nil {
		tokens = []model.Token{}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "count": len(tokens)})
}

func (s *Server) refreshPools(c *gin.Context) {
	dex := c.Param("dex")
	res, err := s.rec.ReconcilePools(c.Request.Context(), dex)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshPoolsResponse{
		Status:       "success",
		Message:      fmt.Sprintf("Refreshed %d %s pools", res.Updated, dex),
		PoolsUpdated: res.Updated,
	})
}

func (s *Server) refreshPool(c *gin.Context) {
	dex, poolID := c.Param("dex"), c.Param("id")
	res, err := s.rec.ReconcilePool(c.Request.Context(), dex, poolID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshPoolsResponse{
		Status:       "success",
		Message:      fmt.Sprintf("Refreshed pool %s", poolID),
		PoolsUpdated: res.Updated,
	})
}

func (s *Server) refreshPositions(c *gin.Context) {
	dex, poolID := c.Param("dex"), c.Param("id")
	ctx := c.Request.Context()

	pool, err := s.reader.GetPool(ctx, poolID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if pool.Dex != dex {
		abortWithError(c, apperr.Validationf("refresh positions", "pool %s belongs to %s, not %s", poolID, pool.Dex, dex))
		return
	}

	res, err := s.rec.ReconcilePoolPositions(ctx, poolID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	msg := fmt.Sprintf("Updated %d positions for pool %s", res.Updated, poolID)
	if res.Updated == 0 {
		msg = "No positions found for pool"
	}
	c.JSON(http.StatusOK, refreshPositionsResponse{
		Status:           "success",
		Message:          msg,
		PositionsUpdated: res.Updated,
	})
}

func (s *Server) refreshTokens(c *gin.Context) {
	dex := c.Param("dex")
	res, err := s.rec.ReconcileTokens(c.Request.Context(), dex)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshTokensResponse{
		Status:        "success",
		Message:       fmt.Sprintf("Refreshed %d %s tokens", res.Updated, dex),
		TokensUpdated: res.Updated,
	})
}

func uintParam(c *gin.Context, key string) (uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("parse "+key, fmt.Errorf("%q: %w", raw, err))
	}
	return v, nil
}
