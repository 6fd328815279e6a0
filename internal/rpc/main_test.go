package rpc

import (
	"os"
	"testing"

	"github.com/soporteakasiapro1-art/pi-island/internal/rpc/rpctest"
)

func TestMain(m *testing.M) {
	rpctest.MaybeServe()
	os.Exit(m.Run())
}
