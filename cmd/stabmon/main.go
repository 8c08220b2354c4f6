package main

import (
	"flag"
	"log"
	"os"

	"github.com/robotalks/stabilizer/pkg/host"
	"github.com/robotalks/stabilizer/pkg/protocol"
	"github.com/robotalks/stabilizer/pkg/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/stabilizer/"
	station string
)

func init() {
	if val := os.Getenv("STAB_TELEMETRY_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&station, "station", station, "Only watch this station.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	opts, prefix, err := telemetry.ClientOptionsFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	q := telemetry.NewQueue(opts, prefix)
	q.Sub("+/"+telemetry.TopicMeta, func(topic string, payload []byte) {
		if len(payload) == 0 {
			log.Printf("%s: gone", topic)
			return
		}
		log.Printf("%s: %s", topic, string(payload))
	})
	telemetry.Subscribe(q, station, func(station string, s host.Snapshot) {
		log.Printf("%s: %.4fW target=%gW duty=%d (%s%%) delta=%d closed=%v",
			station, s.Watts, s.Target, s.Duty, protocol.DutyPercent(s.Duty), s.DutyDelta, s.ClosedLoop)
	})
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	<-(chan struct{})(nil)
}
