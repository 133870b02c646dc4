package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drgolem/streamplayer/pkg/ringbuffer"
)

func main() {
	// 10ms of 48kHz stereo
	rb := ringbuffer.New[int16](ringbuffer.CapacityFor(48000, 2, 10*time.Millisecond))

	fmt.Println("Lock-free SPSC Ring Buffer Demo")
	fmt.Printf("Buffer size: %d samples\n\n", rb.Size())

	const (
		chunks    = 10
		chunkSize = 480 // 5ms of stereo
	)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer writes faster than the consumer reads and is paced by WriteAll.
	go func() {
		defer wg.Done()
		chunk := make([]int16, chunkSize)
		for i := 0; i < chunks; i++ {
			for j := range chunk {
				chunk[j] = int16(i)
			}
			start := time.Now()
			if err := rb.WriteAll(context.Background(), chunk); err != nil {
				fmt.Printf("Producer error: %v\n", err)
				return
			}
			fmt.Printf("Producer: chunk %d written after %v, buffered: %d samples\n",
				i, time.Since(start).Round(time.Millisecond), rb.AvailableRead())
		}
		fmt.Println("Producer: finished")
	}()

	// Consumer reads fixed periods like an audio callback; shortfalls are silence.
	go func() {
		defer wg.Done()
		period := make([]int16, 256)
		total, silent := 0, 0
		for total < chunks*chunkSize {
			time.Sleep(3 * time.Millisecond)
			n := rb.Read(period)
			total += n
			silent += len(period) - n
		}
		fmt.Printf("Consumer: read %d samples, padded %d with silence\n", total, silent)
	}()

	wg.Wait()
	fmt.Println("\nDemo completed successfully!")
}
