package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"
)

// NewLoggingInterceptor logs every unary call with its duration. Handler
// errors are logged at warn; operation results travel in the response.
func NewLoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			elapsed := time.Since(start)

			procedure := req.Spec().Procedure
			if err != nil {
				zlog.Warn().Msgf("api: call failed: procedure=%s peer=%s elapsed=%s code=%s error=%v",
					procedure, req.Peer().Addr, elapsed, connect.CodeOf(err), err)
				return resp, err
			}
			zlog.Debug().Msgf("api: call: procedure=%s peer=%s elapsed=%s", procedure, req.Peer().Addr, elapsed)
			return resp, nil
		}
	}
}
