package tracker

import (
	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// Rank returns the token's position in the recent-tokens window at the
// observed height, 1 being the newest. A token is acceptable for new
// submissions only while its rank is at most constants.TokenAcceptanceBound.
// Returns 0 for tokens that never expire.
func Rank(token chains.ValidityToken, height uint64) uint64 {
	if !token.Expires() {
		return 0
	}
	remaining := token.RemainingAdvances(height)
	if remaining == 0 && token.ExpiredAt(height) {
		// Past the boundary; report the first expired rank
		return constants.TokenAcceptanceBound + (height - token.LastValidHeight)
	}
	if remaining >= constants.TokenAcceptanceBound {
		// The observed height lags the fetch height; the token cannot be
		// ranked below the newest position
		return 1
	}
	return constants.TokenAcceptanceBound - remaining
}

// Accepted reports whether the token is inside the acceptance window at the
// observed height: rank at most TokenAcceptanceBound
func Accepted(token chains.ValidityToken, height uint64) bool {
	if !token.Expires() {
		return true
	}
	return Rank(token, height) <= constants.TokenAcceptanceBound
}
