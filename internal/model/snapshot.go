package model

// PoolSnapshot is a pools listing plus the token metadata embedded in it.
type PoolSnapshot struct {
	Pools  []Pool  `json:"pools"`
	Tokens []Token `json:"tokens,omitempty"`
}
