package command

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BeginOneShot allocates a buffer from c's pool and begins it for a single submit.
func (c *Command) BeginOneShot(name string) (gpu.CommandBuffer, error) {
	buffers, err := c.device.AllocateCommandBuffers(c.Pool, 1)
	if err != nil {
		return 0, gpu.Wrap(err, "allocate one-shot %s", name)
	}

	buffer := buffers[0]
	if err := c.device.BeginCommandBuffer(buffer, core1_0.CommandBufferUsageOneTimeSubmit); err != nil {
		c.device.FreeCommandBuffers(c.Pool, buffer)
		return 0, gpu.Wrap(err, "begin one-shot %s", name)
	}

	c.logger.Debug("begin one-shot", "name", name, "family", c.FamilyIndex)
	return buffer, nil
}

// EndOneShot submits buffer to c's queue, waits for the queue to go idle and
// frees the buffer. The buffer is freed on every path.
func (c *Command) EndOneShot(buffer gpu.CommandBuffer) error {
	defer c.device.FreeCommandBuffers(c.Pool, buffer)

	if err := c.device.EndCommandBuffer(buffer); err != nil {
		return gpu.Wrap(err, "end one-shot")
	}

	err := c.device.QueueSubmit(c.Queue, 0, gpu.SubmitInfo{
		CommandBuffers: []gpu.CommandBuffer{buffer},
	})
	if err != nil {
		return gpu.Wrap(err, "submit one-shot on family %d", c.FamilyIndex)
	}

	return gpu.Wrap(c.device.QueueWaitIdle(c.Queue), "wait idle on family %d", c.FamilyIndex)
}

// OneShot records fn into a fresh buffer, submits it and waits for completion.
func (c *Command) OneShot(name string, fn func(cb gpu.CommandBuffer) error) error {
	buffer, err := c.BeginOneShot(name)
	if err != nil {
		return err
	}

	if err := fn(buffer); err != nil {
		c.device.FreeCommandBuffers(c.Pool, buffer)
		return errors.Wrapf(err, "record %s", name)
	}

	return errors.Wrapf(c.EndOneShot(buffer), "%s", name)
}
