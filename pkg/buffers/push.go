package buffers

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// RTDataIDAverages is the real-time buffer carrying the averaged metering
// group pushed every averaging period.
const RTDataIDAverages uint16 = 0x80

// DefaultAverageInterval is the averaging period of pushed readings.
const DefaultAverageInterval = 5 * time.Minute

// Reporter pushes the unsolicited messages of a Unit through a port: the
// time and the firmware version on start, the averaged readings and the
// health counters every Interval.
type Reporter struct {
	Unit     *Unit
	Port     *link.Port
	Interval time.Duration
}

// NewReporter creates a Reporter with the default averaging period.
func NewReporter(u *Unit, p *link.Port) *Reporter {
	return &Reporter{Unit: u, Port: p, Interval: DefaultAverageInterval}
}

// PushTime sends the unit time as an execute action.
func (r *Reporter) PushTime() error {
	return r.push(frame.CmdExecAck, frame.ActTypeTime, ActIDWriteTime, EncodeTime(r.Unit.Clock.Now()))
}

// PushVersion sends the protection firmware version.
func (r *Reporter) PushVersion() error {
	return r.push(frame.CmdWrite, frame.BufTypeFactory, FactoryIDProtFW, []byte(r.Unit.Factory.firmware))
}

// PushAverages sends the averaged readings of the first metering group.
func (r *Reporter) PushAverages() error {
	return r.push(frame.CmdWrite, frame.BufTypeRTData, RTDataIDAverages, EncodeValues(r.Unit.Metering.Averages(0)))
}

// PushHealth sends the health counters.
func (r *Reporter) PushHealth() error {
	b := make([]byte, r.Unit.Health.Len())
	r.Unit.Health.Fill(b)
	return r.push(frame.CmdWrite, frame.BufTypeDiag, 0, b)
}

// Run implements framework.Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	for _, fn := range []func() error{r.PushTime, r.PushVersion} {
		if err := fn(); err != nil {
			glog.Warningf("%s: push: %v", r.Port.Name(), err)
		}
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var errs framework.AggregatedError
			errs.Add(r.PushAverages(), r.PushHealth())
			if err := errs.Aggregate(); err != nil {
				glog.Warningf("%s: push: %v", r.Port.Name(), err)
			}
		}
	}
}

func (r *Reporter) push(cmd frame.Command, typ frame.BufType, id uint16, payload []byte) error {
	key := link.BufKey{Type: typ, ID: id}
	return r.Port.Push(&link.PushRequest{
		Command: cmd,
		BufType: typ,
		BufID:   id,
		Payload: payload,
		Done: func(code frame.AckCode, err error) {
			switch {
			case err != nil:
				glog.Warningf("%s: push %s: %v", r.Port.Name(), key, err)
			case !code.IsAck():
				glog.Warningf("%s: push %s: nak %s", r.Port.Name(), key, code)
			default:
				glog.V(2).Infof("%s: push %s acked", r.Port.Name(), key)
			}
		},
	})
}
