// Comfy2ayon connects a ComfyUI instance to an AYON pipeline server. It launches and
// configures ComfyUI for a project, exposes the endpoints the ComfyUI frontend uses to
// publish rendered images and workflows, and turns sets of produced files into AYON
// products, versions and representations laid out by the project's anatomy templates.
package comfy2ayon
