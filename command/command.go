// Package command bundles a queue with the pool and command buffers recorded
// for it.
package command

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type Settings struct {
	FamilyIndex int
	QueueIndex  int
	BufferCount int
	PoolFlags   core1_0.CommandPoolCreateFlags
	Name        string
	Logger      *slog.Logger
}

// Command is a queue, a pool on the queue's family, and the primary buffers
// allocated from that pool.
type Command struct {
	FamilyIndex int
	Queue       gpu.Queue
	Pool        gpu.CommandPool
	Buffers     []gpu.CommandBuffer
	Name        string

	device gpu.CommandDevice
	logger *slog.Logger
}

func New(device gpu.CommandDevice, settings Settings) (*Command, error) {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := device.CreateCommandPool(settings.FamilyIndex, settings.PoolFlags)
	if err != nil {
		return nil, gpu.Wrap(err, "create command pool %s", settings.Name)
	}

	c := &Command{
		FamilyIndex: settings.FamilyIndex,
		Queue:       device.GetQueue(settings.FamilyIndex, settings.QueueIndex),
		Pool:        pool,
		Name:        settings.Name,
		device:      device,
		logger:      logger,
	}

	if err := c.allocate(settings.BufferCount); err != nil {
		device.DestroyCommandPool(pool)
		return nil, err
	}

	logger.Debug("created command", "name", c.Name, "family", c.FamilyIndex, "buffers", len(c.Buffers))
	return c, nil
}

func (c *Command) Device() gpu.CommandDevice {
	return c.device
}

func (c *Command) allocate(count int) error {
	if count <= 0 {
		c.Buffers = nil
		return nil
	}

	buffers, err := c.device.AllocateCommandBuffers(c.Pool, count)
	if err != nil {
		return gpu.Wrap(err, "allocate %d command buffers for %s", count, c.Name)
	}
	c.Buffers = buffers
	return nil
}

// BufferName is the debug name of buffer i.
func (c *Command) BufferName(i int) string {
	return fmt.Sprintf("%s_%d", c.Name, i)
}

// Reallocate frees the current buffers and allocates count new ones.
func (c *Command) Reallocate(count int) error {
	if len(c.Buffers) > 0 {
		c.device.FreeCommandBuffers(c.Pool, c.Buffers...)
		c.Buffers = nil
	}
	return c.allocate(count)
}

// Record begins buffer i, runs fn and ends the buffer.
func (c *Command) Record(i int, fn func(cb gpu.CommandBuffer) error) error {
	if i < 0 || i >= len(c.Buffers) {
		return errors.AssertionFailedf("command %s has no buffer %d", c.Name, i)
	}

	cb := c.Buffers[i]
	if err := c.device.BeginCommandBuffer(cb, 0); err != nil {
		return gpu.Wrap(err, "begin %s", c.BufferName(i))
	}
	if err := fn(cb); err != nil {
		return errors.Wrapf(err, "record %s", c.BufferName(i))
	}
	if err := c.device.EndCommandBuffer(cb); err != nil {
		return gpu.Wrap(err, "end %s", c.BufferName(i))
	}
	return nil
}

// Destroy frees the buffers and the pool. The queue must be idle.
func (c *Command) Destroy() {
	if c.Pool == 0 {
		return
	}
	if len(c.Buffers) > 0 {
		c.device.FreeCommandBuffers(c.Pool, c.Buffers...)
	}
	c.device.DestroyCommandPool(c.Pool)
	c.Buffers = nil
	c.Pool = 0
}
