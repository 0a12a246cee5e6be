package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/karlseguin/ccache/v3"
)

var (
	DefaultUsernamePeerTTL = 1 * time.Hour
	DefaultChannelPeerTTL  = 6 * time.Hour
)

type Cache struct {
	Peers PeersCache
}

func New() *Cache {
	peersCache := ccache.New(
		ccache.Configure[tg.InputPeerClass]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		Peers: PeersCache{
			c:   peersCache,
			mux: sync.Mutex{},
		},
	}
}

// PeersCache maps usernames and bare channel or user ids to resolved input peers.
type PeersCache struct {
	c   *ccache.Cache[tg.InputPeerClass]
	mux sync.Mutex
}

func UsernameKey(username string) string {
	return "username:" + username
}

func ChannelKey(channelID int64) string {
	return "channel:" + strconv.FormatInt(channelID, 10)
}

func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func (c *PeersCache) Fetch(k string, ttl time.Duration, fetch func() (tg.InputPeerClass, error)) (tg.InputPeerClass, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	item, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, err
	}
	return item.Value(), nil
}

func (c *PeersCache) Set(k string, ttl time.Duration, peer tg.InputPeerClass) {
	c.c.Set(k, peer, ttl)
}

func (c *PeersCache) Delete(k string) {
	c.c.Delete(k)
}
