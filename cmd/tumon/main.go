package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/robotalks/tripcomm/pkg/bridge/mqtt"
	"github.com/robotalks/tripcomm/pkg/config"
)

var filter = "#"

func init() {
	flag.StringVar(&filter, "topic", filter, "Topic filter relative to the prefix.")
}

func main() {
	config.SetupFlags()
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := config.Default()
	if conf.MQTTBrokerURL == "" {
		log.Fatalln("MQTT broker URL required: -mqtt or TRIPCOMM_MQTT_URL")
	}
	q, err := mqtt.NewQueueFromURL(conf.MQTTBrokerURL)
	if err != nil {
		log.Fatalln(err)
	}

	q.Sub(filter, func(topic string, payload []byte) {
		out, err := mqtt.DecodeJSON(payload)
		if err != nil {
			log.Printf("%s: bad record: %v", topic, err)
			return
		}
		log.Printf("%s: %s", topic, out)
	})
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	defer q.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
}
