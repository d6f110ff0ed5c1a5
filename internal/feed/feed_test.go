package feed

import (
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed() *Feed {
	return New("wss://example.invalid", 0, nil)
}

func TestDispatchClassifiesTickList(t *testing.T) {
	f := newTestFeed()
	raw := []byte(`[{"tk":"256265","lp":"101.50","v":"1000","ft":"1700000000"}]`)
	f.dispatch(raw)

	select {
	case tick := <-f.tickCh:
		assert.Equal(t, int64(256265), tick.Token)
		assert.Equal(t, 101.50, tick.LTP)
		assert.Equal(t, int64(1000), tick.CumVolume)
	default:
		t.Fatal("expected a tick to be dispatched")
	}
}

func TestDispatchClassifiesDataEnvelope(t *testing.T) {
	f := newTestFeed()
	raw := []byte(`{"data":[{"tk":"99926000","lp":"50.25","v":"500","ft":"1700000010"}]}`)
	f.dispatch(raw)

	select {
	case tick := <-f.tickCh:
		assert.Equal(t, int64(99926000), tick.Token)
		assert.Equal(t, 50.25, tick.LTP)
	default:
		t.Fatal("expected a tick from the data envelope to be dispatched")
	}
}

func TestDispatchClassifiesOrderUpdate(t *testing.T) {
	f := newTestFeed()
	raw := []byte(`{"orderId":"24081100012345","remarks":"abc-internal-id","tk":"256265","trantype":"S","status":"COMPLETE","fillshares":"50","avgprc":"102.10"}`)
	f.dispatch(raw)

	select {
	case u := <-f.orderCh:
		assert.Equal(t, "abc-internal-id", u.InternalID)
		assert.Equal(t, domain.SideSell, u.Side)
		assert.Equal(t, domain.StatusComplete, u.Status)
		assert.Equal(t, int64(50), u.FilledQty)
	default:
		t.Fatal("expected an order update to be dispatched")
	}
}

func TestDispatchDropsTickWhenChannelFull(t *testing.T) {
	f := newTestFeed()
	for i := 0; i < tickChanCapacity; i++ {
		f.tickCh <- domain.Tick{Token: 1}
	}
	raw := []byte(`[{"tk":"1","lp":"1","v":"1","ft":"1700000000"}]`)
	require.NotPanics(t, func() { f.dispatch(raw) })
	assert.Len(t, f.tickCh, tickChanCapacity, "a full tick channel must drop the new tick, not block")
}

func TestWireStatusMapsUnknownToPartial(t *testing.T) {
	assert.Equal(t, domain.StatusPartial, wireStatus("SOMETHING_NEW"))
	assert.Equal(t, domain.StatusPendingBroker, wireStatus("OPEN"))
}
