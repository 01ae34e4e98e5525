package buffers

import (
	"errors"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
	"github.com/robotalks/tripcomm/pkg/store"
)

// MaxFactoryBlock is the largest factory block accepted.
const MaxFactoryBlock = 64

// Factory serves the factory blocks: the firmware version and the style
// blocks kept in the store.
type Factory struct {
	store    store.Store
	firmware string
}

// NewFactory creates a Factory.
func NewFactory(st store.Store, firmware string) *Factory {
	return &Factory{store: st, firmware: firmware}
}

// Register installs the factory buffers.
func (f *Factory) Register(reg *link.Registry) {
	reg.Provide(frame.BufTypeFactory, FactoryIDProtFW, link.ProviderFunc(func() []byte { return []byte(f.firmware) }))
	for _, id := range []uint16{FactoryIDStyle, FactoryIDStyle2} {
		id := id
		reg.Provide(frame.BufTypeFactory, id, link.ProviderFunc(func() []byte { return f.block(id) })).
			Accept(frame.BufTypeFactory, id, link.StoreFunc(func(p []byte) frame.AckCode { return f.write(id, p) }))
	}
}

func (f *Factory) block(id uint16) []byte {
	data, err := f.store.Read(storeFactory + id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		glog.Errorf("factory %d: %v", id, err)
	}
	return data
}

func (f *Factory) write(id uint16, p []byte) frame.AckCode {
	if len(p) == 0 || len(p) > MaxFactoryBlock {
		return frame.NakDataRange
	}
	if err := f.store.Write(storeFactory+id, p); err != nil {
		glog.Errorf("factory %d: %v", id, err)
		return frame.NakGeneral
	}
	return frame.Ack
}
