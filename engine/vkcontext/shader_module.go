package vkcontext

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// CreateShaderModule wraps a SPIR-V binary in a shader module.
//
// Parameters:
//   - ctx: the device context
//   - code: the SPIR-V binary (word-aligned)
//
// Returns:
//   - vk.ShaderModule: the created module
//   - error: error if creation fails
func CreateShaderModule(ctx *Context, code []byte) (vk.ShaderModule, error) {
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(ctx.Device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4),
	}, nil, &module)
	if err := CheckResult(ret, "vkCreateShaderModule"); err != nil {
		return vk.NullShaderModule, err
	}
	return module, nil
}
