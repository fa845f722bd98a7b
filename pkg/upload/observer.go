package upload

import "github.com/eunmann/s3-upload-stream/pkg/transport"

// Progress is a snapshot taken when a part upload has been recorded. Stats
// is taken at the same moment, so observers never need Engine.Stats.
type Progress struct {
	PartNumber int32
	ETag       string
	PartSize   int64
	Stats
}

// Observer receives engine notifications. Calls are serialized and made in
// the order results are recorded, with the engine lock held. Exactly one of
// Completed or Failed is called per upload. Observer methods must not call
// back into the Engine.
type Observer interface {
	PartUploaded(p Progress)
	Completed(obj *transport.Object)
	Failed(err error)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnPart     func(Progress)
	OnComplete func(*transport.Object)
	OnFail     func(error)
}

func (o ObserverFuncs) PartUploaded(p Progress) {
	if o.OnPart != nil {
		o.OnPart(p)
	}
}

func (o ObserverFuncs) Completed(obj *transport.Object) {
	if o.OnComplete != nil {
		o.OnComplete(obj)
	}
}

func (o ObserverFuncs) Failed(err error) {
	if o.OnFail != nil {
		o.OnFail(err)
	}
}
