// uvc-probe checks a gadget through a real host stack: it enumerates the
// streaming interface of a device node, negotiates a frame and saves the
// frames it receives.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	usb "github.com/kevmo314/go-usb"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/transfers"
)

func main() {
	path := flag.String("path", "", "path to the usb device, e.g. /dev/bus/usb/001/004")
	frameIndex := flag.Uint("frame", 1, "bFrameIndex to negotiate")
	count := flag.Int("count", 10, "number of frames to save")
	out := flag.String("out", ".", "directory for the saved frames")

	flag.Parse()

	fd, err := os.OpenFile(*path, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	// the handle owns fd from here on.
	handle, err := usb.WrapSysDevice(int(fd.Fd()))
	if err != nil {
		log.Fatal(err)
	}
	defer handle.Close()

	config, err := handle.RawConfigDescriptor(0)
	if err != nil {
		log.Fatalf("read configuration: %s", err)
	}
	if err := descriptors.Validate(config); err != nil {
		log.Printf("configuration does not validate: %s", err)
	}
	si, err := streamingInterface(handle, config)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("streaming interface %d, UVC %s, %d formats", si.InterfaceNumber(), si.UVCVersionString(), len(si.FormatDescriptors()))
	for _, fr := range si.FrameDescriptors() {
		if fr, ok := fr.(*descriptors.MJPEGFrameDescriptor); ok {
			log.Printf("  frame %d: %dx%d, intervals %v", fr.FrameIndex, fr.Width, fr.Height, fr.DiscreteFrameIntervals)
		}
	}

	formats := si.FormatDescriptors()
	if len(formats) == 0 {
		log.Fatal("no formats")
	}
	reader, vpcc, err := si.ClaimFrameReader(formats[0].Index(), uint8(*frameIndex), 0)
	if err != nil {
		log.Fatal(err)
	}
	defer si.Release()
	defer reader.Close()
	log.Printf("committed: frame %d, interval %s, max frame %d, max payload %d",
		vpcc.FrameIndex, vpcc.FrameInterval, vpcc.MaxVideoFrameSize, vpcc.MaxPayloadTransferSize)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatal(err)
	}
	for i := 0; i < *count; {
		frame, err := reader.ReadFrame()
		if err != nil {
			log.Printf("error reading frame: %s", err)
			continue
		}
		name := filepath.Join(*out, fmt.Sprintf("frame-%03d.jpg", i))
		if err := os.WriteFile(name, frame, 0o644); err != nil {
			log.Fatal(err)
		}
		log.Printf("%s: %d bytes", name, len(frame))
		i++
	}
}

// streamingInterface finds the video streaming interface in a configuration
// blob and attaches the class-specific descriptors that follow it.
func streamingInterface(handle *usb.DeviceHandle, config []byte) (*transfers.StreamingInterface, error) {
	vc, _, err := descriptors.ParseConfiguration(config)
	if err != nil {
		return nil, err
	}
	var bcdUVC uint16
	for _, d := range vc {
		if hd, ok := d.(*descriptors.HeaderDescriptor); ok {
			bcdUVC = hd.UVC
		}
	}
	for off := 0; off+1 < len(config) && config[off] >= 2; off += int(config[off]) {
		var id descriptors.InterfaceDescriptor
		if id.UnmarshalBinary(config[off:]) != nil || !id.IsVideoStreaming() {
			continue
		}
		start := off + int(config[off])
		end := start
		for end+1 < len(config) && config[end] >= 2 && descriptors.DescriptorType(config[end+1]) != descriptors.DescriptorTypeInterface {
			end += int(config[end])
		}
		if end > len(config) {
			end = len(config)
		}
		si := transfers.NewStreamingInterface(handle, id.InterfaceNumber, bcdUVC)
		if err := si.ParseDescriptors(config[start:end]); err != nil {
			return nil, err
		}
		return si, nil
	}
	return nil, fmt.Errorf("no video streaming interface")
}
