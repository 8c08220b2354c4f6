package telemetry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/stabilizer/pkg/host"
)

// Topics under <prefix><station>/.
const (
	TopicSamples = "samples"
	TopicMeta    = "meta"
)

// Meta is the retained station description.
type Meta struct {
	Station  string `json:"station"`
	Hostname string `json:"hostname"`
	Link     string `json:"link"`
}

// StationID derives a stable station ID from the machine ID.
func StationID() string {
	id, err := machineid.ProtectedID("stabilizer")
	if err != nil {
		glog.Warningf("machine id: %v", err)
		name, _ := os.Hostname()
		return name
	}
	return id[:12]
}

// Publisher publishes host snapshots. It implements host.Observer.
type Publisher struct {
	Queue   *Queue
	Station string

	meta []byte
}

// NewPublisher creates a Publisher for a broker URL.
// An empty station uses StationID.
func NewPublisher(brokerURL, station, link string) (*Publisher, error) {
	if station == "" {
		station = StationID()
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "broker url %q", brokerURL)
	}
	// the retained meta is cleared when the station goes away.
	opts.SetBinaryWill(topicPrefix+station+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("stabilizer:" + station)
	}
	hostname, _ := os.Hostname()
	meta, err := json.Marshal(&Meta{Station: station, Hostname: hostname, Link: link})
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		Queue:   NewQueue(opts, topicPrefix),
		Station: station,
		meta:    meta,
	}
	p.Queue.OnConnect = func(q *Queue) {
		q.PubWith(p.topic(TopicMeta), p.meta, 1, true)
	}
	return p, nil
}

// Name implements framework.Named.
func (p *Publisher) Name() string {
	return "telemetry"
}

// Run implements framework.Runnable.
func (p *Publisher) Run(ctx context.Context) error {
	// auto reconnect takes over after the first attempt.
	if token := p.Queue.Connect(); token.Wait() && token.Error() != nil {
		glog.Warningf("telemetry connect: %v", token.Error())
	}
	<-ctx.Done()
	p.Queue.PubWith(p.topic(TopicMeta), nil, 1, true).Wait()
	p.Queue.Close()
	return ctx.Err()
}

// Observe implements host.Observer. Publishing is asynchronous.
func (p *Publisher) Observe(s host.Snapshot) {
	if !p.Queue.Client.IsConnected() {
		return
	}
	payload, err := EncodeSnapshot(s)
	if err != nil {
		glog.Errorf("encode snapshot: %v", err)
		return
	}
	p.Queue.Pub(p.topic(TopicSamples), payload)
}

func (p *Publisher) topic(name string) string {
	return p.Station + "/" + name
}

// Subscribe calls fn for snapshots of all stations, or of one station.
func Subscribe(q *Queue, station string, fn func(station string, s host.Snapshot)) {
	if station == "" {
		station = "+"
	}
	q.Sub(station+"/"+TopicSamples, func(topic string, payload []byte) {
		s, err := DecodeSnapshot(payload)
		if err != nil {
			glog.Warningf("%s: %v", topic, err)
			return
		}
		fn(topic[:len(topic)-len(TopicSamples)-1], s)
	})
}
