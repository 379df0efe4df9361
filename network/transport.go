package network

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// blockTopic and txTopic are the gossipsub topics NEW_BLOCK and NEW_TX are
// broadcast on; request/response tags travel over direct streams instead.
const (
	blockTopic   = "hybridchain/blocks/v1"
	txTopic      = "hybridchain/txs/v1"
	streamProto  = protocol.ID("/hybridchain/rpc/1.0.0")
)

// TransportConfig configures Transport construction.
type TransportConfig struct {
	ListenAddress string
	ListenPort    int
	DiscoveryTag  string
	SeedPeers     []string
}

// Transport wraps a libp2p host with gossipsub topics for broadcast and a
// single request/response stream protocol, grounded on the teacher's
// core/network.go NewNode and core/peer_management.go.
type Transport struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription

	streamHandler func(peerID string, r *bufio.Reader, w *bufio.Writer)
}

// NewTransport creates and bootstraps a libp2p host, joins the block/tx
// gossip topics, and starts mDNS discovery.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenAddress, cfg.ListenPort)
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: create pubsub: %w", err)
	}

	t := &Transport{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	tag := cfg.DiscoveryTag
	if tag == "" {
		tag = "hybridchain"
	}
	mdns.NewMdnsService(h, tag, mdnsNotifee{t: t})

	for _, addr := range cfg.SeedPeers {
		if err := t.Dial(addr); err != nil {
			logrus.WithError(err).WithField("addr", addr).Warn("seed dial failed")
		}
	}

	return t, nil
}

// ID returns this node's libp2p peer id.
func (t *Transport) ID() string { return t.host.ID().String() }

// SetStreamHandler installs the callback invoked for each inbound RPC
// stream; the callback owns framing via ReadMessage/WriteMessage.
func (t *Transport) SetStreamHandler(fn func(peerID string, r *bufio.Reader, w *bufio.Writer)) {
	t.streamHandler = fn
	t.host.SetStreamHandler(streamProto, func(s network.Stream) {
		defer s.Close()
		fn(s.Conn().RemotePeer().String(), bufio.NewReader(s), bufio.NewWriter(s))
	})
}

// SetPeerConnectHandler installs fn to run whenever the host establishes a
// new connection to a peer, whether dialed as a seed, discovered via mDNS,
// or inbound — a single hook point for triggering the HELLO handshake
// regardless of how the connection came about.
func (t *Transport) SetPeerConnectHandler(fn func(peerID string)) {
	t.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			fn(conn.RemotePeer().String())
		},
	})
}

// Dial connects to a peer given as a libp2p multiaddr string
// (/ip4/.../tcp/.../p2p/...).
func (t *Transport) Dial(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid peer addr %s: %w", addr, err)
	}
	if err := t.host.Connect(t.ctx, *pi); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	return nil
}

// OpenStream opens a direct request/response stream to a known peer id.
func (t *Transport) OpenStream(peerID string) (*bufio.Reader, *bufio.Writer, func() error, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode peer id %s: %w", peerID, err)
	}
	s, err := t.host.NewStream(t.ctx, pid, streamProto)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stream to %s: %w", peerID, err)
	}
	return bufio.NewReader(s), bufio.NewWriter(s), s.Close, nil
}

// PublishBlock broadcasts a NEW_BLOCK message on the block gossip topic.
func (t *Transport) PublishBlock(msg *Message) error { return t.publish(blockTopic, msg) }

// PublishTx broadcasts a NEW_TX message on the tx gossip topic.
func (t *Transport) PublishTx(msg *Message) error { return t.publish(txTopic, msg) }

func (t *Transport) publish(topicName string, msg *Message) error {
	topic, err := t.joinTopic(topicName)
	if err != nil {
		return err
	}
	raw, err := marshalFrame(msg)
	if err != nil {
		return err
	}
	return topic.Publish(t.ctx, raw)
}

// SubscribeBlocks returns a channel of decoded NEW_BLOCK messages from the
// block gossip topic, excluding this node's own publications.
func (t *Transport) SubscribeBlocks() (<-chan *Message, error) { return t.subscribe(blockTopic) }

// SubscribeTxs returns a channel of decoded NEW_TX messages from the tx
// gossip topic.
func (t *Transport) SubscribeTxs() (<-chan *Message, error) { return t.subscribe(txTopic) }

func (t *Transport) subscribe(topicName string) (<-chan *Message, error) {
	topic, err := t.joinTopic(topicName)
	if err != nil {
		return nil, err
	}
	t.topicMu.Lock()
	sub, ok := t.subs[topicName]
	if !ok {
		var serr error
		sub, serr = topic.Subscribe()
		if serr != nil {
			t.topicMu.Unlock()
			return nil, serr
		}
		t.subs[topicName] = sub
	}
	t.topicMu.Unlock()

	out := make(chan *Message, 32)
	go func() {
		defer close(out)
		for {
			raw, err := sub.Next(t.ctx)
			if err != nil {
				return
			}
			if raw.ReceivedFrom == t.host.ID() {
				continue
			}
			msg, err := unmarshalFrame(raw.Data)
			if err != nil {
				logrus.WithError(err).Warn("gossip: malformed frame dropped")
				continue
			}
			msg.From = raw.ReceivedFrom.String()
			out <- msg
		}
	}()
	return out, nil
}

func (t *Transport) joinTopic(name string) (*pubsub.Topic, error) {
	t.topicMu.Lock()
	defer t.topicMu.Unlock()
	topic, ok := t.topics[name]
	if ok {
		return topic, nil
	}
	topic, err := t.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	t.topics[name] = topic
	return topic, nil
}

// Close tears down the host and its context.
func (t *Transport) Close() error {
	t.cancel()
	return t.host.Close()
}

type mdnsNotifee struct{ t *Transport }

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.t.host.ID() {
		return
	}
	if err := n.t.host.Connect(n.t.ctx, info); err != nil {
		logrus.WithError(err).WithField("peer", info.ID.String()).Debug("mdns connect failed")
	}
}

func marshalFrame(msg *Message) ([]byte, error) {
	var buf strings.Builder
	buf.WriteByte(byte(msg.Tag))
	buf.Write(msg.Payload)
	return []byte(buf.String()), nil
}

func unmarshalFrame(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return &Message{Tag: Tag(raw[0]), Payload: raw[1:]}, nil
}
