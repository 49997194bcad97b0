package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/gdamore/tcell/v2"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/requests"
	"github.com/kevmo314/go-uvc-gadget/pkg/transfers"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport/fifo"
	"github.com/rivo/tview"
)

type Display struct {
	frame atomic.Value
}

func (g *Display) Update() error {
	return nil
}

func (g *Display) Draw(screen *ebiten.Image) {
	screen.DrawImage(g.frame.Load().(*ebiten.Image), &ebiten.DrawImageOptions{})
}

func (g *Display) Layout(outsideWidth, outsideHeight int) (int, int) {
	frame := g.frame.Load().(*ebiten.Image)
	return frame.Bounds().Dx(), frame.Bounds().Dy()
}

// device is an open connection to one gadget on the bus.
type device struct {
	host   *fifo.Host
	bcdUVC uint16
	vc     []descriptors.ControlInterface
	vs     []descriptors.StreamingInterface

	streaming atomic.Bool
}

func main() {
	bus := flag.String("bus", filepath.Join(os.TempDir(), "uvc-bus"), "fifo bus directory")
	id := flag.String("device", "", "open this device directly instead of listing the bus")
	render := flag.Bool("render", false, "render the frames to screen (higher performance but requires a display)")

	flag.Parse()

	devices, err := fifo.List(*bus)
	if err != nil {
		panic(err)
	}

	app := tview.NewApplication()

	deviceList := tview.NewList()
	deviceList.SetBorder(true).SetTitle("Devices")

	controlIfaces := tview.NewList().ShowSecondaryText(false)
	controlIfaces.SetBorder(true).SetTitle("Control Interface")

	ifaces := tview.NewFlex().SetDirection(tview.FlexRow).AddItem(deviceList, 0, 1, true).AddItem(controlIfaces, 0, 1, false)

	formats := tview.NewList()
	formats.SetBorder(true).SetTitle("Formats")

	frames := tview.NewList()
	frames.SetBorder(true).SetTitle("Frames")

	preview := tview.NewImage()
	preview.SetColors(256).SetDithering(tview.DitheringNone).SetBorder(true).SetTitle("Preview")

	logText := tview.NewTextView()
	logText.SetMaxLines(10).SetBorder(true).SetTitle("Log")

	log.SetOutput(logText)

	display := &Display{}

	show := func(img image.Image) {
		if *render {
			if display.frame.Swap(ebiten.NewImageFromImage(img)) == nil {
				go func() {
					if err := ebiten.RunGame(display); err != nil {
						log.Printf("ebiten error: %s", err)
					}
				}()
			}
			return
		}
		w := 64
		h := img.Bounds().Dy() * w / img.Bounds().Dx()
		thumb := resize(img, w, h)
		app.QueueUpdateDraw(func() { preview.SetImage(thumb) })
	}

	open := func(id string) {
		dev, err := openDevice(*bus, id)
		if err != nil {
			log.Printf("error opening %s: %s", id, err)
			return
		}
		formats.Clear()
		frames.Clear()
		controlIfaces.Clear()
		for _, ci := range dev.vc {
			controlIfaces.AddItem(controlInterfaceTitle(ci), "", 0, nil)
		}
		for i, d := range dev.vs {
			fd, ok := d.(descriptors.FormatDescriptor)
			if !ok {
				continue
			}
			formats.AddItem(formatDescriptorTitle(fd), formatDescriptorSubtitle(fd), 0, func() {
				frames.Clear()
				for _, d := range dev.vs[i+1:] {
					fr, ok := d.(descriptors.FrameDescriptor)
					if !ok {
						break
					}
					frames.AddItem(frameDescriptorTitle(fr), frameDescriptorSubtitle(fr), 0, func() {
						go func() {
							if err := dev.start(fd.Index(), fr.Index()); err != nil {
								log.Printf("error starting stream: %s", err)
								return
							}
							// a new COMMIT retunes the running stream, one reader is enough.
							if !dev.streaming.Swap(true) {
								go dev.readFrames(show)
							}
						}()
						app.SetFocus(deviceList)
					})
				}
				app.SetFocus(frames)
			})
		}
		app.SetFocus(formats)
	}

	for _, d := range devices {
		deviceList.AddItem(d.ID, fmt.Sprintf("state: %s", d.State), 0, func() { open(d.ID) })
	}
	if *id != "" {
		open(*id)
	}

	// Create the layout.

	flex := tview.NewFlex().
		AddItem(ifaces, 0, 1, true).
		AddItem(formats, 0, 1, false).
		AddItem(frames, 0, 1, false)

	if !*render {
		flex.AddItem(preview, 0, 3, false)
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			app.SetFocus(deviceList)
			return nil
		}
		return event
	})

	if err := app.SetRoot(tview.NewFlex().SetDirection(tview.FlexRow).AddItem(flex, 0, 1, true).AddItem(logText, 10, 0, false), true).Run(); err != nil {
		panic(err)
	}
}

func openDevice(bus, id string) (*device, error) {
	host, err := fifo.Dial(bus, id)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	getConfig := func(length uint16) ([]byte, error) {
		return host.Control(ctx, requests.SetupPacket{
			RequestType: requests.RequestTypeStandardDeviceIn,
			Request:     uint8(requests.StandardRequestGetDescriptor),
			Value:       uint16(descriptors.DescriptorTypeConfiguration) << 8,
			Length:      length,
		}, nil)
	}
	head, err := getConfig(9)
	if err != nil {
		host.Close()
		return nil, err
	}
	if len(head) < 4 {
		host.Close()
		return nil, fmt.Errorf("short configuration descriptor")
	}
	config, err := getConfig(binary.LittleEndian.Uint16(head[2:4]))
	if err != nil {
		host.Close()
		return nil, err
	}
	dev := &device{host: host}
	if dev.vc, dev.vs, err = descriptors.ParseConfiguration(config); err != nil {
		host.Close()
		return nil, err
	}
	for _, ci := range dev.vc {
		if hd, ok := ci.(*descriptors.HeaderDescriptor); ok {
			dev.bcdUVC = hd.UVC
		}
	}
	return dev, nil
}

// start negotiates a format and frame and selects the streaming alternate
// setting, the same sequence a host driver runs.
func (d *device) start(formatIndex, frameIndex uint8) error {
	ctx := context.Background()
	size := uint16(descriptors.MarshalSize(d.bcdUVC))
	probe := func(get bool, code requests.RequestCode, sel requests.VideoStreamingControlSelector, data []byte) ([]byte, error) {
		length := size
		if !get {
			length = uint16(len(data))
		}
		return d.host.Control(ctx, requests.NewClassRequest(get, code, uint8(sel), descriptors.VideoStreamingInterface, length), data)
	}

	b, err := probe(true, requests.RequestCodeGetMax, requests.VideoStreamingControlSelectorProbeControl, nil)
	if err != nil {
		return fmt.Errorf("GET_MAX: %w", err)
	}
	var vpcc descriptors.VideoProbeCommitControl
	if err := vpcc.UnmarshalBinary(b); err != nil {
		return err
	}
	vpcc.FormatIndex = formatIndex
	vpcc.FrameIndex = frameIndex
	vpcc.FrameInterval = 0
	vpcc.MaxVideoFrameSize = 0
	if _, err := probe(false, requests.RequestCodeSetCur, requests.VideoStreamingControlSelectorProbeControl, vpcc.MarshalVersion(d.bcdUVC)); err != nil {
		return fmt.Errorf("SET_CUR probe: %w", err)
	}
	if b, err = probe(true, requests.RequestCodeGetCur, requests.VideoStreamingControlSelectorProbeControl, nil); err != nil {
		return fmt.Errorf("GET_CUR probe: %w", err)
	}
	if _, err := probe(false, requests.RequestCodeSetCur, requests.VideoStreamingControlSelectorCommitControl, b); err != nil {
		return fmt.Errorf("SET_CUR commit: %w", err)
	}
	if err := vpcc.UnmarshalBinary(b); err == nil {
		log.Printf("committed frame %d, interval %s, payload %d", vpcc.FrameIndex, vpcc.FrameInterval, vpcc.MaxPayloadTransferSize)
	}
	_, err = d.host.Control(ctx, requests.SetupPacket{
		RequestType: requests.RequestTypeStandardInterfaceOut,
		Request:     uint8(requests.StandardRequestSetInterface),
		Value:       1,
		Index:       uint16(descriptors.VideoStreamingInterface),
	}, nil)
	return err
}

// readFrames decodes frames from the video endpoint until the pipe fails.
// Frames closer than 50ms are skipped.
func (d *device) readFrames(fn func(image.Image)) {
	reader := transfers.NewFrameReader(d.host, fifo.MaxMessageSize)
	t0 := time.Now().Add(-1 * time.Second)
	for {
		frame, err := reader.ReadFrame()
		if errors.Is(err, transfers.ErrFrameTruncated) {
			continue
		} else if err != nil {
			log.Printf("error reading frame: %s", err)
			return
		}
		t1 := time.Now()
		if t1.Sub(t0) < 50*time.Millisecond {
			continue
		}
		t0 = t1
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			log.Printf("error decoding frame: %s", err)
			continue
		}
		fn(img)
	}
}

func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func formatDescriptorTitle(fd descriptors.FormatDescriptor) string {
	switch fd := fd.(type) {
	case *descriptors.MJPEGFormatDescriptor:
		return fmt.Sprintf("MJPEG (%d frames)", fd.NumFrameDescriptors)
	default:
		return "Unknown"
	}
}

func formatDescriptorSubtitle(fd descriptors.FormatDescriptor) string {
	switch fd := fd.(type) {
	case *descriptors.MJPEGFormatDescriptor:
		return fmt.Sprintf("Default frame: %d, Aspect Ratio: %d:%d", fd.DefaultFrameIndex, fd.AspectRatioX, fd.AspectRatioY)
	default:
		return "Unknown"
	}
}

func frameDescriptorTitle(fd descriptors.FrameDescriptor) string {
	switch fd := fd.(type) {
	case *descriptors.MJPEGFrameDescriptor:
		return fmt.Sprintf("MJPEG (%dx%d)", fd.Width, fd.Height)
	default:
		return "Unknown"
	}
}

func frameDescriptorSubtitle(fd descriptors.FrameDescriptor) string {
	switch fd := fd.(type) {
	case *descriptors.MJPEGFrameDescriptor:
		return fmt.Sprintf("%s, Bitrate: %d-%d Mbps", fd.DefaultFrameInterval, fd.MinBitRate/1000000, fd.MaxBitRate/1000000)
	default:
		return "Unknown"
	}
}

func controlInterfaceTitle(ci descriptors.ControlInterface) string {
	switch ci := ci.(type) {
	case *descriptors.HeaderDescriptor:
		return fmt.Sprintf("Header (UVC %s)", descriptors.BinaryCodedDecimal(ci.UVC))
	case *descriptors.InputTerminalDescriptor:
		return fmt.Sprintf("Input Terminal %d", ci.TerminalID)
	case *descriptors.CameraTerminalDescriptor:
		return fmt.Sprintf("Camera Terminal %d", ci.TerminalID)
	case *descriptors.OutputTerminalDescriptor:
		return fmt.Sprintf("Output Terminal %d (from %d)", ci.TerminalID, ci.SourceID)
	case *descriptors.ProcessingUnitDescriptor:
		return fmt.Sprintf("Processing Unit %d (from %d)", ci.UnitID, ci.SourceID)
	default:
		return "Unknown"
	}
}
