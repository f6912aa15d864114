// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"io/ioutil"
	"strings"

	vk "github.com/devblok/vulkan"
)

// Shader describes a compiled shader module ready
// for pipeline creation
type Shader interface {
	// Name returns the name.type identifier the shader
	// is looked up with
	Name() string

	// Type returns the pipeline stage the shader targets
	Type() ShaderType

	// ShaderModule is an accessor to the underlying API object
	ShaderModule() interface{}

	// Destroy destroys internal members
	Destroy()
}

// NewVulkanShader creates a Vulkan specific shader wrapper
func NewVulkanShader(path string, shaderType ShaderType, device vk.Device) (Shader, error) {
	splitPath := strings.Split(path, "/")
	filename := splitPath[len(splitPath)-1]
	shaderName := strings.TrimSuffix(filename, shaderSuffix)

	shaderContents, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return NewVulkanShaderFromBytes(shaderName, shaderContents, shaderType, device)
}

// NewVulkanShaderFromBytes creates a Vulkan specific shader wrapper
// from compiled shader code already in memory
func NewVulkanShaderFromBytes(name string, contents []byte, shaderType ShaderType, device vk.Device) (Shader, error) {
	if len(contents) == 0 || len(contents)%4 != 0 {
		return nil, fmt.Errorf("shader %s is not valid SPIR-V", name)
	}

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(contents)),
		PCode:    SliceUint32(contents),
	}

	var shader vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(device, &smci, nil, &shader)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(type %d): %s", shaderType, err.Error())
	}

	return &VulkanShader{
		shader:           shader,
		shaderType:       shaderType,
		shaderContents:   contents,
		shaderCreateInfo: smci,
		name:             name,
		device:           device,
	}, nil
}

// VulkanShader is a Vulkan specific shader
type VulkanShader struct {
	Destroyable
	Shader

	name       string
	shaderType ShaderType
	device     vk.Device
	shader     vk.ShaderModule

	// shaderContents backs the PCode slice handed to the API,
	// it has to outlive module creation
	shaderContents   []byte
	shaderCreateInfo vk.ShaderModuleCreateInfo
}

// Type implements interface
func (v VulkanShader) Type() ShaderType {
	return v.shaderType
}

// ShaderModule is an accssor to the internal vk.ShaderModule
func (v VulkanShader) ShaderModule() interface{} {
	return v.shader
}

// Name implements interface
func (v VulkanShader) Name() string {
	return v.name
}

// Destroy implements interface
func (v VulkanShader) Destroy() {
	vk.DestroyShaderModule(v.device, v.shader, nil)
}
