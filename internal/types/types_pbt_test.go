package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genPlatform() gopter.Gen {
	values := make([]interface{}, len(AllPlatforms))
	for i, p := range AllPlatforms {
		values[i] = p
	}
	return gen.OneConstOf(values...)
}

// Trade ids carry their platform namespace and round-trip the native id
func TestTradeIDNamespacing(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("id is prefix, dash, native id", prop.ForAll(
		func(p Platform, native string) bool {
			id := TradeID(p, native)
			rest, ok := strings.CutPrefix(id, p.IDPrefix()+"-")
			return ok && rest == native
		},
		genPlatform(),
		gen.AlphaString(),
	))

	properties.Property("different platforms never share an id", prop.ForAll(
		func(a, b Platform, native string) bool {
			if a == b {
				return true
			}
			return TradeID(a, native) != TradeID(b, native)
		},
		genPlatform(),
		genPlatform(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
